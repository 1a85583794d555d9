package voice

import (
	"context"
	"fmt"
)

// NewFailoverSTT wraps two real STT backends. Every call starts on primary;
// fallback serves only the call whose primary session could not be opened.
// No state is shared between calls, so a recovered primary is used again on
// the very next call.
func NewFailoverSTT(primary, fallback STTProvider) STTProvider {
	return &failoverSTTProvider{primary: primary, fallback: fallback}
}

type failoverSTTProvider struct {
	primary  STTProvider
	fallback STTProvider
}

func (p *failoverSTTProvider) Name() string {
	return p.primary.Name() + "+" + p.fallback.Name()
}

func (p *failoverSTTProvider) StartSession(ctx context.Context, callID string) (STTSession, error) {
	sess, primaryErr := p.primary.StartSession(ctx, callID)
	if primaryErr == nil {
		return sess, nil
	}
	if ctx.Err() != nil {
		return nil, primaryErr
	}
	sess, fallbackErr := p.fallback.StartSession(ctx, callID)
	if fallbackErr != nil {
		return nil, fmt.Errorf("stt %s failed: %v; stt %s failed: %w",
			p.primary.Name(), primaryErr, p.fallback.Name(), fallbackErr)
	}
	return sess, nil
}
