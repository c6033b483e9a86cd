package workspace

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Options configures a Provisioner.
type Options struct {
	// ImagePrefix is combined with the language name to pick the editor
	// image, e.g. "proctord-editor" -> "proctord-editor-python".
	ImagePrefix string

	// EditorPassword is passed to the container as the code-server login
	// credential.
	EditorPassword string

	// Host is the address editors are reachable at. Default "127.0.0.1".
	Host string

	// ProvisionTimeout bounds the reachability wait. Default 15s.
	ProvisionTimeout time.Duration

	// ProbeInterval is the delay between reachability probes. Default 500ms.
	ProbeInterval time.Duration
}

// Provisioner maps each user to at most one live editor instance.
type Provisioner struct {
	runtime Runtime
	opts    Options

	mu        sync.Mutex
	sessions  map[string]*Session    // keyed by userID
	userLocks map[string]*sync.Mutex // serializes Provision per user

	httpClient *http.Client
}

// NewProvisioner creates a Provisioner backed by the given runtime.
func NewProvisioner(rt Runtime, opts Options) *Provisioner {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.ProvisionTimeout <= 0 {
		opts.ProvisionTimeout = 15 * time.Second
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 500 * time.Millisecond
	}
	return &Provisioner{
		runtime:    rt,
		opts:       opts,
		sessions:   make(map[string]*Session),
		userLocks:  make(map[string]*sync.Mutex),
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
}

// Provision starts a fresh editor instance for the user and returns its
// session once the editor answers HTTP. Any previously tracked instance for
// the same user is released first, so a user never accumulates containers.
func (p *Provisioner) Provision(ctx context.Context, userID string, lang Language) (*Session, error) {
	if !lang.Supported() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}

	// Provisioning for one user is serialized end to end. Without this,
	// two concurrent requests both pass the replacement check, both start
	// a container, and the second to track wins while the first keeps
	// running untracked.
	lock := p.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	// Replacement semantics: tear down the old instance before starting
	// the new one.
	if prev := p.takeSession(userID); prev != nil {
		log.Printf("workspace: replacing existing instance for user %s", userID)
		p.release(ctx, prev)
	}

	port, err := pickFreePort()
	if err != nil {
		return nil, fmt.Errorf("allocating port: %w", err)
	}

	sess := &Session{
		UserID:    userID,
		Language:  lang,
		Port:      port,
		EditorURL: fmt.Sprintf("http://%s:%d", p.opts.Host, port),
		Status:    StatusRequested,
		CreatedAt: time.Now().UTC(),
	}

	sess.Status = StatusStarting
	instanceID, err := p.runtime.Start(ctx, StartOptions{
		UserID:   userID,
		Language: lang,
		Image:    fmt.Sprintf("%s-%s", p.opts.ImagePrefix, lang),
		Port:     port,
		Env:      []string{"PASSWORD=" + p.opts.EditorPassword},
	})
	if err != nil {
		sess.Status = StatusGone
		return nil, fmt.Errorf("starting workspace for user %s: %w", userID, err)
	}
	sess.InstanceID = instanceID

	if err := p.waitReachable(ctx, sess.EditorURL); err != nil {
		// The container keeps running so an operator can inspect it; it is
		// still tracked and will be swept by Release/ReleaseAll.
		p.track(sess)
		return nil, err
	}

	sess.Status = StatusReady
	p.track(sess)
	log.Printf("workspace: user %s -> %s (%s, %s)", userID, sess.EditorURL, lang, shortID(instanceID))
	return sess, nil
}

// Release stops and removes the instance. Unknown or already-stopped
// instances are treated as success.
func (p *Provisioner) Release(ctx context.Context, instanceID string) error {
	p.mu.Lock()
	var sess *Session
	for uid, s := range p.sessions {
		if s.InstanceID == instanceID {
			sess = s
			delete(p.sessions, uid)
			break
		}
	}
	p.mu.Unlock()

	if sess == nil {
		// Not tracked: still ask the runtime so stray containers can be
		// removed by instance id.
		return p.runtime.Stop(ctx, instanceID)
	}
	p.release(ctx, sess)
	return nil
}

// ReleaseAll tears down every tracked instance. Per-instance failures are
// logged, not propagated, so shutdown always completes.
func (p *Provisioner) ReleaseAll(ctx context.Context) {
	p.mu.Lock()
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = make(map[string]*Session)
	p.mu.Unlock()

	for _, s := range sessions {
		p.release(ctx, s)
	}
}

// SessionFor returns the live session for a user, or nil.
func (p *Provisioner) SessionFor(userID string) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[userID]
}

// ActiveSessions returns a snapshot of all live sessions.
func (p *Provisioner) ActiveSessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s)
	}
	return out
}

func (p *Provisioner) track(sess *Session) {
	p.mu.Lock()
	p.sessions[sess.UserID] = sess
	p.mu.Unlock()
}

// userLock returns the mutex guarding provisioning for one user. Entries
// are never removed; one mutex per user seen is cheap at this scale.
func (p *Provisioner) userLock(userID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		p.userLocks[userID] = l
	}
	return l
}

func (p *Provisioner) takeSession(userID string) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	sess := p.sessions[userID]
	delete(p.sessions, userID)
	return sess
}

func (p *Provisioner) release(ctx context.Context, sess *Session) {
	sess.Status = StatusStopping
	if err := p.runtime.Stop(ctx, sess.InstanceID); err != nil {
		log.Printf("workspace: stopping %s for user %s: %v", shortID(sess.InstanceID), sess.UserID, err)
	}
	sess.Status = StatusGone
}

// waitReachable polls the editor URL with backoff until it answers or the
// provision timeout elapses. Any HTTP response counts: code-server answers
// the login page with 200 and proxies with 302.
func (p *Provisioner) waitReachable(ctx context.Context, url string) error {
	deadline := time.Now().Add(p.opts.ProvisionTimeout)
	interval := p.opts.ProbeInterval

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := p.httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		// Back off gently so a slow editor start doesn't get hammered.
		if interval < 2*time.Second {
			interval += 250 * time.Millisecond
		}
	}
	return fmt.Errorf("%w: %s after %s", ErrProvisionTimeout, url, p.opts.ProvisionTimeout)
}

// pickFreePort asks the kernel for an unused TCP port.
func pickFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	_, portStr, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
