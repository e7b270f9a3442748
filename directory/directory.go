// Package directory resolves authenticated principals into CA requestors.
// It holds password users and certificate-bound requestors together with
// the permissions each is granted on individual CAs.
package directory

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jmcleod/ironca/ca"
	"github.com/jmcleod/ironca/internal/util"
)

var (
	// ErrDuplicate is returned when a user or requestor name is already taken.
	ErrDuplicate = errors.New("directory entry already exists")

	// ErrUnknownPrincipal is returned when a grant names an unknown principal.
	ErrUnknownPrincipal = errors.New("unknown principal")
)

// Grant is what a principal may do on one CA.
type Grant struct {
	Permissions ca.Permission
	Profiles    ca.ProfileSet
}

type user struct {
	ident    ca.NameID
	hash     string
	disabled bool
}

type requestor struct {
	ident       ca.NameID
	fingerprint string
}

// Directory is an in-memory principal directory. It is safe for concurrent use.
type Directory struct {
	mu     sync.RWMutex
	nextID int64

	users      map[string]*user      // normalized name
	requestors map[string]*requestor // cert SHA-256 fingerprint

	userGrants      map[string]map[int64]Grant // CA name -> user id
	requestorGrants map[string]map[int64]Grant // CA name -> requestor id
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{
		users:           make(map[string]*user),
		requestors:      make(map[string]*requestor),
		userGrants:      make(map[string]map[int64]Grant),
		requestorGrants: make(map[string]map[int64]Grant),
	}
}

func normalizeName(name string) string {
	return strings.ToLower(util.Normalize(strings.TrimSpace(name)))
}

func normalizeCA(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func certFingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// AddUser registers a password user. passwordHash is an encoded argon2id
// hash as produced by util.HashPassword.
func (d *Directory) AddUser(name, passwordHash string, disabled bool) (ca.NameID, error) {
	key := normalizeName(name)
	if key == "" {
		return ca.NameID{}, errors.New("user name is required")
	}
	if !strings.HasPrefix(passwordHash, "$argon2id$") {
		return ca.NameID{}, fmt.Errorf("user %s: %w", name, util.ErrMalformedHash)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[key]; ok {
		return ca.NameID{}, fmt.Errorf("%w: user %s", ErrDuplicate, name)
	}
	d.nextID++
	u := &user{ident: ca.NameID{ID: d.nextID, Name: key}, hash: passwordHash, disabled: disabled}
	d.users[key] = u
	return u.ident, nil
}

// AddRequestor registers a requestor authenticated by its TLS client
// certificate.
func (d *Directory) AddRequestor(name string, cert *x509.Certificate) (ca.NameID, error) {
	if cert == nil {
		return ca.NameID{}, errors.New("requestor certificate is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ca.NameID{}, errors.New("requestor name is required")
	}
	fp := certFingerprint(cert)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.requestors[fp]; ok {
		return ca.NameID{}, fmt.Errorf("%w: requestor certificate %s", ErrDuplicate, fp)
	}
	for _, r := range d.requestors {
		if strings.EqualFold(r.ident.Name, name) {
			return ca.NameID{}, fmt.Errorf("%w: requestor %s", ErrDuplicate, name)
		}
	}
	d.nextID++
	r := &requestor{ident: ca.NameID{ID: d.nextID, Name: name}, fingerprint: fp}
	d.requestors[fp] = r
	return r.ident, nil
}

// GrantUser gives a user permissions on a CA, replacing any earlier grant.
func (d *Directory) GrantUser(caName, userName string, g Grant) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[normalizeName(userName)]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrUnknownPrincipal, userName)
	}
	putGrant(d.userGrants, normalizeCA(caName), u.ident.ID, g)
	return nil
}

// GrantRequestor gives a certificate requestor permissions on a CA.
func (d *Directory) GrantRequestor(caName, requestorName string, g Grant) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.requestors {
		if strings.EqualFold(r.ident.Name, requestorName) {
			putGrant(d.requestorGrants, normalizeCA(caName), r.ident.ID, g)
			return nil
		}
	}
	return fmt.Errorf("%w: requestor %s", ErrUnknownPrincipal, requestorName)
}

func putGrant(grants map[string]map[int64]Grant, caName string, id int64, g Grant) {
	m, ok := grants[caName]
	if !ok {
		m = make(map[int64]Grant)
		grants[caName] = m
	}
	m[id] = g
}

// AuthenticateUser checks a password. It returns nil without error when the
// user is unknown, disabled or the password does not match.
func (d *Directory) AuthenticateUser(_ context.Context, caName, userName string, password []byte) (*ca.NameID, error) {
	d.mu.RLock()
	u, ok := d.users[normalizeName(userName)]
	d.mu.RUnlock()
	if !ok || u.disabled {
		return nil, nil
	}
	match, err := util.VerifyPassword(u.hash, util.Normalize(string(password)))
	if err != nil {
		return nil, fmt.Errorf("verifying password of user %s: %w", u.ident.Name, err)
	}
	if !match {
		return nil, nil
	}
	ident := u.ident
	return &ident, nil
}

// RequestorByUser returns the requestor view of an authenticated user on a
// CA, or nil when the user holds no grant there.
func (d *Directory) RequestorByUser(_ context.Context, caName string, ident ca.NameID) (*ca.Requestor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.userGrants[normalizeCA(caName)][ident.ID]
	if !ok {
		return nil, nil
	}
	return &ca.Requestor{Ident: ident, Permissions: g.Permissions, Profiles: g.Profiles}, nil
}

// RequestorByCert returns the requestor bound to a client certificate, or
// nil when the certificate is unknown or holds no grant on the CA.
func (d *Directory) RequestorByCert(_ context.Context, caName string, cert *x509.Certificate) (*ca.Requestor, error) {
	if cert == nil {
		return nil, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.requestors[certFingerprint(cert)]
	if !ok {
		return nil, nil
	}
	g, ok := d.requestorGrants[normalizeCA(caName)][r.ident.ID]
	if !ok {
		return nil, nil
	}
	return &ca.Requestor{Ident: r.ident, Permissions: g.Permissions, Profiles: g.Profiles}, nil
}
