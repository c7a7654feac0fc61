package tradelog

import (
	"context"
	"testing"
	"time"
)

// TestMemoryLogPerKeyOrder tests that messages for one key arrive in
// produce order.
func TestMemoryLogPerKeyOrder(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	consumer, err := log.Subscribe("crypto-trades", "ai-processor-group")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	producer := log.Producer()
	for _, v := range []string{"one", "two", "three"} {
		if err := producer.Produce(ctx, "crypto-trades", "BTCUSDT", []byte(v)); err != nil {
			t.Fatalf("Produce failed: %v", err)
		}
	}

	for _, want := range []string{"one", "two", "three"} {
		msg, err := consumer.Poll(ctx, time.Second)
		if err != nil {
			t.Fatalf("Poll failed: %v", err)
		}
		if msg == nil {
			t.Fatal("Poll should return a produced message")
		}
		if string(msg.Value) != want {
			t.Errorf("Expected %q, got %q", want, msg.Value)
		}
		if msg.Key != "BTCUSDT" {
			t.Errorf("Key should survive transport, got %q", msg.Key)
		}
		if err := consumer.Ack(ctx, msg); err != nil {
			t.Errorf("Ack failed: %v", err)
		}
	}
}

// TestMemoryLogGroupStartsAtTail tests that a new group sees only messages
// produced after it subscribed.
func TestMemoryLogGroupStartsAtTail(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()
	producer := log.Producer()

	producer.Produce(ctx, "crypto-trades", "BTCUSDT", []byte("before"))

	consumer, _ := log.Subscribe("crypto-trades", "ai-processor-group")
	producer.Produce(ctx, "crypto-trades", "BTCUSDT", []byte("after"))

	msg, err := consumer.Poll(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if msg == nil || string(msg.Value) != "after" {
		t.Fatalf("New group should start at the tail, got %v", msg)
	}
}

// TestMemoryLogRedelivery tests at-least-once semantics: an unacked message
// comes back, an acked one does not.
func TestMemoryLogRedelivery(t *testing.T) {
	log := NewMemoryLog()
	log.RedeliverAfter = 10 * time.Millisecond
	ctx := context.Background()

	consumer, _ := log.Subscribe("crypto-trades", "ai-processor-group")
	log.Producer().Produce(ctx, "crypto-trades", "BTCUSDT", []byte("payload"))

	first, _ := consumer.Poll(ctx, time.Second)
	if first == nil {
		t.Fatal("Expected initial delivery")
	}

	// Not acked: it should be offered again after the redelivery window.
	time.Sleep(20 * time.Millisecond)
	second, _ := consumer.Poll(ctx, 100*time.Millisecond)
	if second == nil {
		t.Fatal("Unacked message should be redelivered")
	}
	if string(second.Value) != "payload" {
		t.Errorf("Redelivery changed payload: %q", second.Value)
	}

	consumer.Ack(ctx, second)
	time.Sleep(20 * time.Millisecond)
	third, _ := consumer.Poll(ctx, 50*time.Millisecond)
	if third != nil {
		t.Errorf("Acked message should not be redelivered, got %q", third.Value)
	}
}

// TestMemoryLogPollTimeout tests the none case.
func TestMemoryLogPollTimeout(t *testing.T) {
	log := NewMemoryLog()
	consumer, _ := log.Subscribe("crypto-trades", "ai-processor-group")

	start := time.Now()
	msg, err := consumer.Poll(context.Background(), 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if msg != nil {
		t.Fatalf("Empty topic should time out with no message, got %v", msg)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Poll took too long: %v", elapsed)
	}
}

// TestMemoryLogWakesOnProduce tests that a blocked Poll returns as soon as
// a message arrives.
func TestMemoryLogWakesOnProduce(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()
	consumer, _ := log.Subscribe("crypto-trades", "ai-processor-group")

	go func() {
		time.Sleep(20 * time.Millisecond)
		log.Producer().Produce(ctx, "crypto-trades", "ETHUSDT", []byte("wake"))
	}()

	msg, err := consumer.Poll(ctx, 5*time.Second)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if msg == nil || string(msg.Value) != "wake" {
		t.Fatalf("Poll should wake on produce, got %v", msg)
	}
}

// TestMemoryLogPollCancellation tests context cancellation during a block.
func TestMemoryLogPollCancellation(t *testing.T) {
	log := NewMemoryLog()
	consumer, _ := log.Subscribe("crypto-trades", "ai-processor-group")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := consumer.Poll(ctx, 5*time.Second); err == nil {
		t.Error("Cancelled Poll should return the context error")
	}
}
