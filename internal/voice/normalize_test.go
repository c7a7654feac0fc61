package voice

import "testing"

func TestNormalizeExpandsTickers(t *testing.T) {
	got := Normalize("BTC just broke $69000!")
	want := "Bitcoin just broke dollars 69000!"
	if got != want {
		t.Errorf("Should expand tickers and symbols, got %q want %q", got, want)
	}
}

func TestNormalizePairReadsQuoteCurrency(t *testing.T) {
	got := Normalize("BTCUSDT")
	want := "BitcoinUS D T"
	if got != want {
		t.Errorf("Should expand base before quote currency, got %q want %q", got, want)
	}
}

func TestNormalizeRSIAndPercent(t *testing.T) {
	got := Normalize("RSI at 82.5% is overheated")
	want := "R S I at 82.5 percent is overheated"
	if got != want {
		t.Errorf("Should spell out RSI and percent, got %q want %q", got, want)
	}
}

func TestNormalizeStripsMarkdown(t *testing.T) {
	got := Normalize("**Ethereum** is `pumping` __hard__")
	want := "Ethereum is pumping hard"
	if got != want {
		t.Errorf("Should strip markdown artifacts, got %q want %q", got, want)
	}
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	got := Normalize("  Solana \n\t moves   fast  ")
	want := "Solana moves fast"
	if got != want {
		t.Errorf("Should collapse whitespace, got %q want %q", got, want)
	}
}

func TestVoiceForOverride(t *testing.T) {
	s := NewSynthesizer(SynthConfig{
		APIKey:    "key",
		VoiceID:   "Brian",
		Overrides: map[string]string{"ETHUSDT": "Rachel"},
	})

	if got := s.voiceFor("ETHUSDT"); got != "Rachel" {
		t.Errorf("Should use override voice for configured symbol, got %q", got)
	}
	if got := s.voiceFor("BTCUSDT"); got != "Brian" {
		t.Errorf("Should fall back to default voice, got %q", got)
	}
}

func TestIsConfigured(t *testing.T) {
	if NewSynthesizer(SynthConfig{VoiceID: "Brian"}).IsConfigured() {
		t.Error("Should not be configured without an API key")
	}
	if !NewSynthesizer(SynthConfig{APIKey: "key", VoiceID: "Brian"}).IsConfigured() {
		t.Error("Should be configured with key and voice")
	}
}
