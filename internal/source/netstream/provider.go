package netstream

import (
	"log/slog"

	"github.com/gorilla/websocket"

	"dvbrx/internal/source"
)

const (
	maxStreamName  = 15
	streamNameChar = "abcdefghijklmnopqrstuvwxyz0123456789-_ "
)

// Options configures the network stream backend.
type Options struct {
	MediaPath string
	// Dialer overrides websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Provider registers the network stream backend.
type Provider struct {
	opts Options
}

// NewProvider builds a provider.
func NewProvider(opts Options) *Provider { return &Provider{opts: opts} }

// Kind implements source.Provider.
func (p *Provider) Kind() source.Kind { return source.KindNetStream }

// DefaultBand implements source.Provider.
func (p *Provider) DefaultBand() source.Band {
	return source.Band{Kind: source.KindNetStream, Timeout: defaultTimeout, InitTimeout: defaultInitTimeout}
}

// Profile implements source.Provider.
func (p *Provider) Profile(source.Band) source.Profile {
	return source.Profile{
		Params: []source.ParamSpec{{
			Name:    source.ParamStream,
			Label:   "Stream Name",
			Kind:    source.ParamString,
			MaxLen:  maxStreamName,
			Charset: streamNameChar,
		}},
	}
}

// NewManager implements source.Provider.
func (p *Provider) NewManager(cfg *source.Config, logger *slog.Logger) (source.Manager, error) {
	return newManager(p.opts, cfg, logger)
}
