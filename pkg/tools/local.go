package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/parley-run/parley/pkg/events"
)

// LocalFunc is the body of a local tool: it may emit any number of frames
// through emit, then returns its final textual contribution and whether
// the reasoning loop should stop after this tool. An error becomes an
// error frame followed by a finish sentinel carrying the error text.
type LocalFunc func(ctx context.Context, ec ExecutorContext, args map[string]any, emit func(events.Frame)) (string, bool, error)

// LocalTool adapts a function into the frame-channel tool contract.
type LocalTool struct {
	name        string
	description string
	schema      map[string]any
	fn          LocalFunc
}

func NewLocalTool(name, description string, schema map[string]any, fn LocalFunc) *LocalTool {
	return &LocalTool{
		name:        name,
		description: description,
		schema:      schema,
		fn:          fn,
	}
}

func (t *LocalTool) Name() string           { return t.name }
func (t *LocalTool) Description() string    { return t.description }
func (t *LocalTool) Schema() map[string]any { return t.schema }

func (t *LocalTool) Execute(ctx context.Context, ec ExecutorContext, args map[string]any) (<-chan events.Frame, error) {
	out := make(chan events.Frame, 8)

	emit := func(frame events.Frame) {
		select {
		case out <- frame:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(out)

		result, stop, err := t.fn(ctx, ec, args, emit)
		if err != nil {
			emit(events.Error(err.Error()))
			emit(events.Finish(fmt.Sprintf("tool %s failed: %v", t.name, err), false))
			return
		}
		emit(events.Finish(result, stop))
	}()
	return out, nil
}

type getTimeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name; defaults to UTC"`
}

// NewGetTimeTool returns the built-in clock tool. now is injectable for
// tests.
func NewGetTimeTool(now func() time.Time) *LocalTool {
	if now == nil {
		now = time.Now
	}
	return NewLocalTool(
		"get_time",
		"Returns the current time as an RFC 3339 timestamp.",
		MustSchema[getTimeArgs](),
		func(ctx context.Context, ec ExecutorContext, args map[string]any, emit func(events.Frame)) (string, bool, error) {
			loc := time.UTC
			if tz, ok := args["timezone"].(string); ok && tz != "" {
				parsed, err := time.LoadLocation(tz)
				if err != nil {
					return "", false, fmt.Errorf("unknown timezone %q", tz)
				}
				loc = parsed
			}

			ts := now().In(loc).Format(time.RFC3339)
			emit(events.Tool("time", ts))
			return ts, false, nil
		},
	)
}

// WalletFetcher loads a wallet overview for an address.
type WalletFetcher func(ctx context.Context, address string) (any, error)

type walletOverviewArgs struct {
	Address string `json:"address" jsonschema:"required,description=Wallet address to summarize"`
}

// NewWalletOverviewTool returns the built-in wallet tool. It emits a typed
// wallet frame with the fetched overview and caches the overview in the
// conversation's scratch context for later turns.
func NewWalletOverviewTool(fetch WalletFetcher) *LocalTool {
	return NewLocalTool(
		"wallet_overview",
		"Fetches a wallet's balance overview and streams it as a wallet event.",
		MustSchema[walletOverviewArgs](),
		func(ctx context.Context, ec ExecutorContext, args map[string]any, emit func(events.Frame)) (string, bool, error) {
			address, _ := args["address"].(string)
			if address == "" {
				return "", false, fmt.Errorf("address is required")
			}
			if fetch == nil {
				return "", false, fmt.Errorf("no wallet backend configured")
			}

			overview, err := fetch(ctx, address)
			if err != nil {
				return "", false, fmt.Errorf("wallet lookup failed: %w", err)
			}

			emit(events.Wallet(overview))

			serialized, err := json.Marshal(overview)
			if err != nil {
				return "", false, fmt.Errorf("failed to serialize wallet overview: %w", err)
			}
			if ec.Scratch != nil {
				if err := ec.Scratch.Set(ctx, ec.ConversationID, "wallet_overview", string(serialized)); err != nil {
					return "", false, err
				}
			}
			return string(serialized), false, nil
		},
	)
}
