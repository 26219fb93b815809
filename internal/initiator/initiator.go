// Package initiator turns a set of running members into a replica set:
// one replSetInitiate, then status polling until the set answers.
package initiator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/replctl/internal/cluster"
	"github.com/danmuck/replctl/internal/observability"
	"github.com/danmuck/replctl/internal/retry"
	"github.com/rs/zerolog/log"
)

var (
	ErrInitiateFailed   = errors.New("initiator: replSetInitiate failed")
	ErrAlreadyInitiated = errors.New("initiator: configuration already submitted")
	ErrStatusFailed     = errors.New("initiator: replSetGetStatus failed")
	ErrMalformedStatus  = errors.New("initiator: malformed status reply")
)

const DefaultStatusBackoff = time.Second

// InitiateAck is the reply to replSetInitiate.
type InitiateAck struct {
	OK   float64 `bson:"ok"`
	Info string  `bson:"info,omitempty"`
}

// MemberStatus is one member entry of a replSetGetStatus reply.
type MemberStatus struct {
	ID       int     `bson:"_id"`
	Name     string  `bson:"name"`
	Health   float64 `bson:"health"`
	State    int     `bson:"state"`
	StateStr string  `bson:"stateStr"`
	Self     bool    `bson:"self,omitempty"`
}

// StatusReport is the subset of replSetGetStatus the bootstrapper reads.
type StatusReport struct {
	Set     string         `bson:"set"`
	MyState int            `bson:"myState"`
	Members []MemberStatus `bson:"members"`
	OK      float64        `bson:"ok"`
}

func (r StatusReport) Validate() error {
	if r.OK != 1 {
		return fmt.Errorf("%w: ok=%v", ErrMalformedStatus, r.OK)
	}
	if strings.TrimSpace(r.Set) == "" || len(r.Members) == 0 {
		return fmt.Errorf("%w: set=%q members=%d", ErrMalformedStatus, r.Set, len(r.Members))
	}
	return nil
}

// Primary returns the member currently reporting PRIMARY.
func (r StatusReport) Primary() (MemberStatus, bool) {
	for _, m := range r.Members {
		if m.StateStr == "PRIMARY" {
			return m, true
		}
	}
	return MemberStatus{}, false
}

func (r StatusReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "set=%s members=%d", r.Set, len(r.Members))
	for _, m := range r.Members {
		fmt.Fprintf(&b, " [%d %s %s]", m.ID, m.Name, m.StateStr)
	}
	return b.String()
}

// Client is the engine protocol boundary.
type Client interface {
	Initiate(ctx context.Context, addr string, cfg cluster.Config) (InitiateAck, error)
	Status(ctx context.Context, setName string, addrs []string) (StatusReport, error)
}

// Initiator submits the configuration once and waits for stability.
type Initiator struct {
	client  Client
	backoff retry.BackoffConfig
	// Retryable classifies status errors; defaults to IsReconnect.
	Retryable func(error) bool

	mu        sync.Mutex
	submitted bool
	setName   string
}

func New(client Client, statusBackoff time.Duration) *Initiator {
	if statusBackoff <= 0 {
		statusBackoff = DefaultStatusBackoff
	}
	return &Initiator{
		client:    client,
		backoff:   retry.Fixed(statusBackoff),
		Retryable: IsReconnect,
	}
}

// Initiate sends cfg to the member at addr. It is never retried:
// re-initiating a half-formed set is unsafe, so any failure is final.
func (i *Initiator) Initiate(ctx context.Context, addr string, cfg cluster.Config) (InitiateAck, error) {
	i.mu.Lock()
	if i.submitted {
		i.mu.Unlock()
		return InitiateAck{}, ErrAlreadyInitiated
	}
	i.submitted = true
	i.setName = cfg.Name
	i.mu.Unlock()

	log.Info().Msgf("initiator.Initiate submit addr=%s set=%s members=%d witnesses=%v", addr, cfg.Name, len(cfg.Members), cfg.Witnesses())
	ack, err := i.client.Initiate(ctx, addr, cfg)
	if err != nil {
		return InitiateAck{}, fmt.Errorf("%w: %s: %w", ErrInitiateFailed, addr, err)
	}
	if ack.OK != 1 {
		return ack, fmt.Errorf("%w: %s: ok=%v info=%q", ErrInitiateFailed, addr, ack.OK, ack.Info)
	}
	return ack, nil
}

// AwaitStable polls replSetGetStatus across addrs until a well-formed
// reply arrives. Reconnect-class errors are retried with no attempt cap;
// anything else is returned wrapped in ErrStatusFailed.
func (i *Initiator) AwaitStable(ctx context.Context, addrs []string) (StatusReport, error) {
	i.mu.Lock()
	setName := i.setName
	i.mu.Unlock()

	classify := i.Retryable
	if classify == nil {
		classify = IsReconnect
	}
	started := time.Now()
	policy := retry.Policy{
		Backoff:   i.backoff,
		Retryable: classify,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			observability.RecordStatusRetry()
			log.Debug().Msgf("initiator.AwaitStable retry attempt=%d delay=%s err=%v", attempt, delay, err)
		},
	}
	report, err := retry.Do(ctx, policy, func(ctx context.Context) (StatusReport, error) {
		report, err := i.client.Status(ctx, setName, addrs)
		if err != nil {
			return StatusReport{}, err
		}
		if verr := report.Validate(); verr != nil {
			return StatusReport{}, verr
		}
		return report, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return StatusReport{}, err
		}
		return StatusReport{}, fmt.Errorf("%w: %w", ErrStatusFailed, err)
	}
	observability.RecordStableWait(time.Since(started))
	log.Info().Msgf("initiator.AwaitStable stable after=%s %s", time.Since(started).Round(time.Millisecond), report)
	return report, nil
}
