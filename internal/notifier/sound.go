package notifier

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
)

// SoundConfig is the hot-reloadable sound section.
type SoundConfig struct {
	Enabled bool
	Kind    string
	Volume  float64
	Muted   bool
}

// Sound kinds and how many bell strokes each rings at full volume.
var soundStrokes = map[string]int{
	"chime": 1,
	"bell":  2,
	"alarm": 4,
}

// Player rings the terminal bell. Volume scales the stroke count; a muted
// player or zero volume is silent.
type Player struct {
	mu  sync.Mutex
	w   io.Writer
	cfg SoundConfig
}

func NewPlayer(w io.Writer, cfg SoundConfig) *Player {
	p := &Player{w: w}
	p.Apply(cfg)
	return p
}

func (p *Player) Apply(cfg SoundConfig) {
	if strings.TrimSpace(cfg.Kind) == "" {
		cfg.Kind = "chime"
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

func (p *Player) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Enabled && !p.cfg.Muted
}

// PlayDefault plays the configured sound.
func (p *Player) PlayDefault() error {
	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()
	if !cfg.Enabled {
		return nil
	}
	return p.Play(cfg.Kind, cfg.Volume, cfg.Muted)
}

// Play rings kind at volume (0..1).
func (p *Player) Play(kind string, volume float64, muted bool) error {
	strokes, ok := soundStrokes[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return fmt.Errorf("unknown sound kind %q", kind)
	}
	if math.IsNaN(volume) || volume < 0 || volume > 1 {
		return fmt.Errorf("volume %v is outside 0..1", volume)
	}
	if muted || volume == 0 {
		return nil
	}
	n := max(1, int(math.Round(float64(strokes)*volume)))
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := io.WriteString(p.w, strings.Repeat("\a", n))
	return err
}
