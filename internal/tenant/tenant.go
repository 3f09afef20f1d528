package tenant

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrMissingTenant is returned when tenant context is mandatory and
	// the request carries no tenant identifier.
	ErrMissingTenant = errors.New("missing tenant context")
	// ErrInvalidTenant is returned for identifiers outside the allowed
	// charset or length bounds, or containing a ".." sequence.
	ErrInvalidTenant = errors.New("invalid tenant context")
)

// DefaultTenant is the sentinel identifier used when tenant context is
// optional and the request supplies none.
const DefaultTenant = "default"

// keyLength is the number of digest bytes kept for the on-disk key.
const keyLength = 16

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.:@-]{1,128}$`)

// Context carries a resolved tenant identity. Key is a one-way digest of
// the caller-supplied ID; all filesystem paths derive from Key only, so a
// hostile identifier can never reach the path layer.
type Context struct {
	ID   string
	Key  string
	Root string
}

// Resolver derives tenant contexts from request header values.
type Resolver struct {
	dataRoot string
	required bool
}

// NewResolver creates a resolver rooted at dataRoot. When required is
// true, requests without a tenant identifier are rejected.
func NewResolver(dataRoot string, required bool) *Resolver {
	return &Resolver{dataRoot: dataRoot, required: required}
}

// Resolve validates the given identifier and returns its context.
func (r *Resolver) Resolve(id string) (Context, error) {
	if id == "" {
		if r.required {
			return Context{}, ErrMissingTenant
		}
		id = DefaultTenant
	}

	if !idPattern.MatchString(id) || strings.Contains(id, "..") {
		return Context{}, ErrInvalidTenant
	}

	key := DeriveKey(id)
	return Context{
		ID:   id,
		Key:  key,
		Root: filepath.Join(r.dataRoot, key),
	}, nil
}

// DeriveKey returns the stable filesystem-safe key for a tenant
// identifier: a truncated sha256 digest rendered as lowercase hex.
func DeriveKey(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:keyLength])
}

// AgentDataDir returns the tenant's isolated agent telemetry directory.
func (c Context) AgentDataDir() string {
	return filepath.Join(c.Root, "agent_data")
}

// SimulationsPath returns the tenant's simulation registry document.
func (c Context) SimulationsPath() string {
	return filepath.Join(c.Root, "simulations.json")
}

// HiddenAgentsPath returns the tenant's hidden agent list document.
func (c Context) HiddenAgentsPath() string {
	return filepath.Join(c.Root, "hidden_agents.json")
}

// DisplayNamesPath returns the tenant's display name mapping document.
func (c Context) DisplayNamesPath() string {
	return filepath.Join(c.Root, "displaying_names.json")
}

// ConfigDir returns the directory for generated simulation config files.
func (c Context) ConfigDir() string {
	return filepath.Join(c.Root, "configs", "generated")
}
