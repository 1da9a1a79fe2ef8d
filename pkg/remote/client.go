// Package remote implements the Strand HTTP wire protocol client: ref
// listing, object transfer (JSON with optional zstd bodies) and atomic
// remote ref updates, with caller-supplied progress and credential
// callbacks.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/strandvcs/strand/pkg/object"
)

// ErrCancelled reports a transfer stopped because the progress callback
// returned false. No partial state is rolled back by the client; callers
// decide what to keep.
var ErrCancelled = errors.New("transfer cancelled by caller")

// TransferProgress is invoked as objects arrive or depart. Returning
// false cancels the transfer with ErrCancelled.
type TransferProgress func(bytesTransferred int64, objectsTransferred int) bool

// Credentials carries authentication material. Token takes precedence
// (Bearer); otherwise Username/Password is sent as Basic auth.
type Credentials struct {
	Username string
	Password string
	Token    string
}

func (c Credentials) empty() bool {
	return c.Token == "" && c.Username == ""
}

// CredentialsFn supplies credentials when the remote rejects a request
// with 401. It receives the endpoint URL being contacted.
type CredentialsFn func(endpointURL string) (Credentials, error)

// Endpoint identifies a Strand protocol repository endpoint.
// BaseURL is normalized to ".../strand/{owner}/{repo}" with no trailing
// slash.
type Endpoint struct {
	Raw     string
	BaseURL string
	Owner   string
	Repo    string
	user    string
	pass    string
}

// ParseEndpoint parses a remote URL into a canonical endpoint.
//
// Supported inputs include:
//   - https://host/strand/owner/repo
//   - https://host/owner/repo (expanded to /strand/owner/repo)
//   - https://host/api/v1/strand/owner/repo
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, fmt.Errorf("remote URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse remote URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Endpoint{}, fmt.Errorf("remote URL must include scheme and host")
	}

	segments := splitPathSegments(u.Path)
	if len(segments) < 2 {
		return Endpoint{}, fmt.Errorf("remote URL must include owner and repository")
	}

	markerIdx := -1
	for i := 0; i+2 < len(segments); i++ {
		if segments[i] == "strand" {
			markerIdx = i
		}
	}

	var owner, repo string
	var baseSegments []string
	if markerIdx >= 0 {
		owner = segments[markerIdx+1]
		repo = segments[markerIdx+2]
		baseSegments = append(baseSegments, segments[:markerIdx+3]...)
	} else {
		owner = segments[len(segments)-2]
		repo = segments[len(segments)-1]
		baseSegments = append(baseSegments, segments[:len(segments)-2]...)
		baseSegments = append(baseSegments, "strand", owner, repo)
	}
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(repo) == "" {
		return Endpoint{}, fmt.Errorf("remote URL must include non-empty owner and repository")
	}

	endpointURL := *u
	endpointURL.Path = "/" + strings.Join(baseSegments, "/")
	endpointURL.RawPath = ""
	endpointURL.RawQuery = ""
	endpointURL.Fragment = ""
	user := ""
	pass := ""
	if endpointURL.User != nil {
		user = endpointURL.User.Username()
		pass, _ = endpointURL.User.Password()
	}
	endpointURL.User = nil

	return Endpoint{
		Raw:     raw,
		BaseURL: strings.TrimRight(endpointURL.String(), "/"),
		Owner:   owner,
		Repo:    repo,
		user:    user,
		pass:    pass,
	}, nil
}

func splitPathSegments(p string) []string {
	p = strings.TrimSpace(path.Clean(p))
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return nil
	}
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" && part != "." {
			out = append(out, part)
		}
	}
	return out
}

// ObjectRecord is one object payload in a transfer.
type ObjectRecord struct {
	Hash object.Hash
	Type object.ObjectType
	Data []byte
}

// RefUpdate is one atomic remote reference update request. A nil Old
// means unconditional; a nil New deletes the ref.
type RefUpdate struct {
	Name string
	Old  *object.Hash
	New  *object.Hash
}

// Options configures the protocol client. Zero values receive defaults.
type Options struct {
	Timeout     time.Duration // HTTP timeout (default 60s)
	Credentials CredentialsFn // consulted on 401 responses
	Progress    TransferProgress
	Logger      *zerolog.Logger
}

// Response limits per endpoint type.
const (
	responseLimitDefault = 2 << 20  // 2MB
	responseLimitRefs    = 8 << 20  // 8MB
	responseLimitBatch   = 64 << 20 // 64MB
)

// batchObjectLimit caps objects per /objects/batch round trip, bounding
// memory on either side of the transfer.
const batchObjectLimit = 4096

// Client speaks the Strand protocol against one repository endpoint.
type Client struct {
	endpoint Endpoint
	http     *http.Client
	creds    Credentials
	askCreds CredentialsFn
	progress TransferProgress
	log      zerolog.Logger
}

// NewClient creates a protocol client.
//
// Auth resolution order:
//  1. STRAND_TOKEN (Bearer)
//  2. STRAND_USERNAME + STRAND_PASSWORD (Basic)
//  3. URL userinfo (Basic)
//  4. Options.Credentials callback, on a 401 response
func NewClient(remoteURL string, opts Options) (*Client, error) {
	endpoint, err := ParseEndpoint(remoteURL)
	if err != nil {
		return nil, err
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	creds := Credentials{
		Token:    strings.TrimSpace(os.Getenv("STRAND_TOKEN")),
		Username: strings.TrimSpace(os.Getenv("STRAND_USERNAME")),
		Password: os.Getenv("STRAND_PASSWORD"),
	}
	if creds.empty() && endpoint.user != "" {
		creds.Username = endpoint.user
		creds.Password = endpoint.pass
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("remote", endpoint.BaseURL).Logger()
	}

	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: opts.Timeout},
		creds:    creds,
		askCreds: opts.Credentials,
		progress: opts.Progress,
		log:      logger,
	}, nil
}

// Endpoint returns the parsed endpoint metadata.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// ListRefs returns all remote refs (e.g. refs/heads/main).
func (c *Client) ListRefs(ctx context.Context) (map[string]object.Hash, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/refs", nil, responseLimitRefs)
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode refs response: %w", err)
	}
	refs := make(map[string]object.Hash, len(raw))
	for name, hash := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		h := object.Hash(strings.TrimSpace(hash))
		if err := ValidateHash(h); err != nil {
			return nil, fmt.Errorf("invalid hash for ref %q: %w", name, err)
		}
		refs[name] = h
	}
	c.log.Debug().Int("refs", len(refs)).Msg("listed remote refs")
	return refs, nil
}

type wireObject struct {
	Hash string `json:"hash"`
	Type string `json:"type"`
	Data []byte `json:"data"`
}

// FetchObjects downloads every object reachable from wants that is not
// reachable from haves, batching round trips and reporting progress after
// each batch. A progress callback returning false aborts with
// ErrCancelled; objects already received stay received.
func (c *Client) FetchObjects(ctx context.Context, wants, haves []object.Hash) ([]ObjectRecord, error) {
	if len(wants) == 0 {
		return nil, fmt.Errorf("at least one want hash is required")
	}

	var all []ObjectRecord
	var bytesTransferred int64

	for {
		records, truncated, err := c.batchObjects(ctx, wants, haves)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			bytesTransferred += int64(len(rec.Data))
			haves = append(haves, rec.Hash)
		}
		all = append(all, records...)

		if c.progress != nil && !c.progress(bytesTransferred, len(all)) {
			c.log.Debug().Int("objects", len(all)).Msg("fetch cancelled by progress callback")
			return all, ErrCancelled
		}
		if !truncated {
			break
		}
	}

	c.log.Debug().Int("objects", len(all)).Int64("bytes", bytesTransferred).Msg("fetched objects")
	return all, nil
}

func (c *Client) batchObjects(ctx context.Context, wants, haves []object.Hash) ([]ObjectRecord, bool, error) {
	reqBody := struct {
		Wants      []string `json:"wants"`
		Haves      []string `json:"haves,omitempty"`
		MaxObjects int      `json:"max_objects,omitempty"`
	}{
		MaxObjects: batchObjectLimit,
	}
	for _, h := range wants {
		if strings.TrimSpace(string(h)) != "" {
			reqBody.Wants = append(reqBody.Wants, string(h))
		}
	}
	for _, h := range haves {
		if strings.TrimSpace(string(h)) != "" {
			reqBody.Haves = append(reqBody.Haves, string(h))
		}
	}
	if len(reqBody.Wants) == 0 {
		return nil, false, fmt.Errorf("at least one non-empty want hash is required")
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, false, err
	}
	body, err := c.doJSON(ctx, http.MethodPost, "/objects/batch", payload, responseLimitBatch)
	if err != nil {
		return nil, false, err
	}

	var resp struct {
		Objects   []wireObject `json:"objects"`
		Truncated bool         `json:"truncated"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, fmt.Errorf("decode batch response: %w", err)
	}

	out := make([]ObjectRecord, 0, len(resp.Objects))
	for _, obj := range resp.Objects {
		objType, err := parseObjectType(obj.Type)
		if err != nil {
			return nil, false, err
		}
		h := object.Hash(strings.TrimSpace(obj.Hash))
		if err := ValidateHash(h); err != nil {
			return nil, false, fmt.Errorf("invalid hash in batch response: %w", err)
		}
		out = append(out, ObjectRecord{Hash: h, Type: objType, Data: obj.Data})
	}
	return out, resp.Truncated, nil
}

// PushObjects uploads objects as a zstd-compressed JSON body, reporting
// progress per batch. Hashes are verified client-side before upload.
func (c *Client) PushObjects(ctx context.Context, objects []ObjectRecord) error {
	var bytesTransferred int64
	sent := 0

	for start := 0; start < len(objects); start += batchObjectLimit {
		end := min(start+batchObjectLimit, len(objects))
		batch := objects[start:end]

		wire := make([]wireObject, 0, len(batch))
		for i, obj := range batch {
			if _, err := parseObjectType(string(obj.Type)); err != nil {
				return fmt.Errorf("push object %d: %w", start+i, err)
			}
			computed := object.HashObject(obj.Type, obj.Data)
			if provided := object.Hash(strings.TrimSpace(string(obj.Hash))); provided != "" && provided != computed {
				return fmt.Errorf("push object %d: hash mismatch (provided %s, computed %s)", start+i, provided, computed)
			}
			wire = append(wire, wireObject{
				Hash: string(computed),
				Type: string(obj.Type),
				Data: obj.Data,
			})
			bytesTransferred += int64(len(obj.Data))
		}

		payload, err := json.Marshal(struct {
			Objects []wireObject `json:"objects"`
		}{Objects: wire})
		if err != nil {
			return fmt.Errorf("push objects: encode: %w", err)
		}
		if _, err := c.doJSONCompressed(ctx, http.MethodPost, "/objects", payload, responseLimitDefault); err != nil {
			return err
		}

		sent += len(batch)
		if c.progress != nil && !c.progress(bytesTransferred, sent) {
			return ErrCancelled
		}
	}

	c.log.Debug().Int("objects", sent).Int64("bytes", bytesTransferred).Msg("pushed objects")
	return nil
}

// UpdateRefs applies atomic CAS updates on the remote refs, returning the
// resulting ref values.
func (c *Client) UpdateRefs(ctx context.Context, updates []RefUpdate) (map[string]object.Hash, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("at least one ref update is required")
	}

	type refUpdatePayload struct {
		Name string  `json:"name"`
		Old  *string `json:"old,omitempty"`
		New  *string `json:"new"`
	}
	payload := struct {
		Updates []refUpdatePayload `json:"updates"`
	}{}
	for _, u := range updates {
		name := strings.TrimSpace(u.Name)
		if name == "" {
			return nil, fmt.Errorf("ref update name is required")
		}
		var oldStr *string
		if u.Old != nil {
			v := strings.TrimSpace(string(*u.Old))
			oldStr = &v
		}
		newVal := ""
		if u.New != nil {
			newVal = strings.TrimSpace(string(*u.New))
		}
		payload.Updates = append(payload.Updates, refUpdatePayload{Name: name, Old: oldStr, New: &newVal})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	body, err := c.doJSON(ctx, http.MethodPost, "/refs", raw, responseLimitDefault)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Updated map[string]string `json:"updated"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode ref update response: %w", err)
	}

	out := make(map[string]object.Hash, len(resp.Updated))
	for name, hash := range resp.Updated {
		out[name] = object.Hash(strings.TrimSpace(hash))
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload []byte, maxBytes int64) ([]byte, error) {
	return c.do(ctx, method, endpoint, payload, maxBytes, false)
}

func (c *Client) doJSONCompressed(ctx context.Context, method, endpoint string, payload []byte, maxBytes int64) ([]byte, error) {
	return c.do(ctx, method, endpoint, payload, maxBytes, true)
}

// do issues one request with auth headers and zstd handling. On a 401 it
// consults the credentials callback once and retries.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, maxBytes int64, compress bool) ([]byte, error) {
	body := payload
	if compress && len(payload) > 0 {
		var err error
		body, err = compressZstd(payload)
		if err != nil {
			return nil, fmt.Errorf("compress request body: %w", err)
		}
	}

	askedForCreds := false
	for {
		req, err := http.NewRequestWithContext(ctx, method, c.endpoint.BaseURL+endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
			if compress {
				req.Header.Set("Content-Encoding", "zstd")
			}
		}
		req.Header.Set("Accept-Encoding", "zstd")
		c.applyAuth(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
		resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}

		if resp.StatusCode == http.StatusUnauthorized && c.askCreds != nil && !askedForCreds {
			askedForCreds = true
			creds, err := c.askCreds(c.endpoint.BaseURL)
			if err != nil {
				return nil, fmt.Errorf("credentials callback: %w", err)
			}
			if creds.empty() {
				return nil, fmt.Errorf("remote request failed (%s %s): %s", method, endpoint, http.StatusText(resp.StatusCode))
			}
			c.creds = creds
			c.log.Debug().Msg("retrying with supplied credentials")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			if re := tryParseRemoteError(respBody); re != nil {
				return nil, re
			}
			msg := strings.TrimSpace(string(respBody))
			if msg == "" {
				msg = http.StatusText(resp.StatusCode)
			}
			return nil, fmt.Errorf("remote request failed (%s %s): %s", method, endpoint, msg)
		}

		if isZstdEncoded(resp.Header.Get("Content-Encoding")) {
			respBody, err = decompressZstd(respBody)
			if err != nil {
				return nil, fmt.Errorf("decompress response: %w", err)
			}
		}
		return respBody, nil
	}
}

func (c *Client) applyAuth(req *http.Request) {
	req.Header.Set(headerProtocol, ProtocolVersion)
	req.Header.Set(headerCapabilities, ClientCapabilities)

	if strings.TrimSpace(c.creds.Token) != "" {
		req.Header.Set("Authorization", "Bearer "+c.creds.Token)
		return
	}
	if strings.TrimSpace(c.creds.Username) != "" {
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}
}

func parseObjectType(raw string) (object.ObjectType, error) {
	switch object.ObjectType(strings.TrimSpace(raw)) {
	case object.TypeBlob, object.TypeTree, object.TypeCommit, object.TypeTag:
		return object.ObjectType(strings.TrimSpace(raw)), nil
	default:
		return "", fmt.Errorf("unsupported object type %q", raw)
	}
}
