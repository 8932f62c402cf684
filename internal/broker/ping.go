package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// Pinger checks that at least one broker accepts connections.
type Pinger struct {
	brokers []string
	dialer  *kafka.Dialer
}

func NewPinger(brokers []string) *Pinger {
	return &Pinger{brokers: brokers, dialer: &kafka.Dialer{}}
}

func (p *Pinger) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	var errs []error
	for _, addr := range p.brokers {
		conn, err := p.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("dial %s: %w", addr, err))
			continue
		}
		_ = conn.Close()
		return nil
	}
	return errors.Join(errs...)
}
