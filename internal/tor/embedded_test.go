package tor

import (
	"errors"
	"testing"
	"time"
)

func TestNewEmbeddedTor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []EmbeddedTorOption
		want time.Duration
	}{
		{name: "default timeout", want: DefaultStartupTimeout},
		{name: "custom timeout", opts: []EmbeddedTorOption{WithStartupTimeout(5 * time.Minute)}, want: 5 * time.Minute},
		{name: "zero keeps default", opts: []EmbeddedTorOption{WithStartupTimeout(0)}, want: DefaultStartupTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NewEmbeddedTor(tt.opts...).startupTimeout; got != tt.want {
				t.Errorf("startupTimeout = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmbeddedTorBeforeStart(t *testing.T) {
	t.Parallel()

	e := NewEmbeddedTor()
	if e.IsRunning() {
		t.Error("IsRunning() = true before Start")
	}
	if e.SocksAddr() != "" || e.ControlAddr() != "" {
		t.Error("addresses should be empty before Start")
	}
	if err := e.Stop(); err != nil {
		t.Errorf("Stop() on stopped daemon = %v", err)
	}
	if _, err := e.NewClient(time.Second); !errors.Is(err, ErrEmbeddedNotRunning) {
		t.Errorf("NewClient() error = %v, want ErrEmbeddedNotRunning", err)
	}
}
