package token

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// YubiKeyProvider talks to a physical YubiKey through the ykpersonalize
// command-line tools: ykinfo for the serial number and ykchalresp for
// HMAC-SHA1 challenge-response. Challenges are passed hex-encoded so
// arbitrary bytes survive the command line.
type YubiKeyProvider struct {
	ykinfoPath     string
	ykchalrespPath string
	timeout        time.Duration

	// execute runs one tool invocation. Overridden in tests.
	execute func(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

var _ Provider = (*YubiKeyProvider)(nil)

// Option configures a YubiKeyProvider.
type Option func(*YubiKeyProvider)

// WithTimeout bounds each tool invocation, including the wait for a
// physical touch. The default is 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(p *YubiKeyProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithToolPaths overrides the ykinfo and ykchalresp binary paths.
// Empty values keep the defaults (resolved via PATH).
func WithToolPaths(ykinfo, ykchalresp string) Option {
	return func(p *YubiKeyProvider) {
		if ykinfo != "" {
			p.ykinfoPath = ykinfo
		}
		if ykchalresp != "" {
			p.ykchalrespPath = ykchalresp
		}
	}
}

// NewYubiKeyProvider creates a provider backed by the ykinfo/ykchalresp
// command-line tools.
func NewYubiKeyProvider(opts ...Option) *YubiKeyProvider {
	p := &YubiKeyProvider{
		ykinfoPath:     "ykinfo",
		ykchalrespPath: "ykchalresp",
		timeout:        30 * time.Second,
		execute:        executeCommand,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// executeCommand runs the named tool and captures both output streams.
func executeCommand(ctx context.Context, name string, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Serial queries the connected YubiKey's serial number via `ykinfo -s -q`.
func (p *YubiKeyProvider) Serial(ctx context.Context) (string, error) {
	out, err := p.run(ctx, p.ykinfoPath, "-s", "-q")
	if err != nil {
		return "", err
	}
	serial := strings.TrimSpace(string(out))
	if serial == "" {
		return "", fmt.Errorf("%w: ykinfo returned no serial", ErrTokenFailed)
	}
	return serial, nil
}

// ChallengeResponse sends the challenge to the given slot via
// `ykchalresp -N -x <hex>` and decodes the hex response.
func (p *YubiKeyProvider) ChallengeResponse(ctx context.Context, slot int, challenge []byte) ([]byte, error) {
	if slot != 1 && slot != 2 {
		return nil, fmt.Errorf("%w: invalid slot %d", ErrTokenFailed, slot)
	}

	slotFlag := fmt.Sprintf("-%d", slot)
	out, err := p.run(ctx, p.ykchalrespPath, slotFlag, "-x", hex.EncodeToString(challenge))
	if err != nil {
		return nil, err
	}

	resp, err := hex.DecodeString(strings.TrimSpace(string(out)))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrTokenFailed, err)
	}
	if len(resp) != ResponseLength {
		return nil, fmt.Errorf("%w: response is %d bytes, expected %d", ErrTokenFailed, len(resp), ResponseLength)
	}
	return resp, nil
}

// run executes one tool invocation under the provider timeout and maps
// failures onto the package error taxonomy.
func (p *YubiKeyProvider) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	stdout, stderr, err := p.execute(ctx, name, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s timed out or was interrupted", ErrTokenFailed, name)
		}
		if isNoTokenOutput(stderr) {
			return nil, ErrNoToken
		}
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrTokenFailed, name, msg)
	}
	return []byte(stdout), nil
}

// isNoTokenOutput recognizes the "no key present" diagnostics the yk tools
// print when nothing is connected.
func isNoTokenOutput(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no yubikey") ||
		strings.Contains(s, "no key found") ||
		strings.Contains(s, "usb error")
}
