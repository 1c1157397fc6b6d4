package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	files "github.com/ipfs/boxo/files"
	"github.com/ipfs/boxo/path"
	"github.com/ipfs/go-cid"
	ipfsApi "github.com/ipfs/kubo/client/rpc"
	"github.com/ipfs/kubo/core/coreiface/options"
	log "github.com/sirupsen/logrus"
)

// IPFSStore uploads content to an IPFS node via the kubo HTTP API.
type IPFSStore struct {
	api        *ipfsApi.HttpApi
	gatewayURL string
	maxBytes   int64
}

// NewIPFSStore connects to the kubo API at apiURL. Accepts host:port,
// http(s) URLs and /ip4 multiaddrs. maxBytes caps a single upload; 0 means
// no ceiling.
func NewIPFSStore(apiURL, gatewayURL string, maxBytes int64) (*IPFSStore, error) {
	apiURL = normalizeAPIURL(apiURL)

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:       10,
			IdleConnTimeout:    90 * time.Second,
			DisableCompression: true,
		},
	}

	api, err := ipfsApi.NewURLApiWithClient(apiURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create IPFS client: %w", err)
	}

	return &IPFSStore{
		api:        api,
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		maxBytes:   maxBytes,
	}, nil
}

// normalizeAPIURL turns the accepted address forms into an http URL.
func normalizeAPIURL(apiURL string) string {
	if apiURL == "" {
		return "http://127.0.0.1:5001"
	}
	if strings.HasPrefix(apiURL, "/ip4/") || strings.HasPrefix(apiURL, "/dns/") {
		// /ip4/172.29.0.2/tcp/5001 -> http://172.29.0.2:5001
		parts := strings.Split(apiURL, "/")
		if len(parts) >= 5 {
			return fmt.Sprintf("http://%s:%s", parts[2], parts[4])
		}
		return apiURL
	}
	if !strings.HasPrefix(apiURL, "http://") && !strings.HasPrefix(apiURL, "https://") {
		return "http://" + apiURL
	}
	return apiURL
}

// envelope is the JSON document actually pinned: content plus the metadata
// needed to interpret it later.
type envelope struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
	StoredAt int64    `json:"stored_at"`
}

func (s *IPFSStore) Store(ctx context.Context, content []byte, meta Metadata) (*StoredContent, error) {
	doc, err := json.Marshal(envelope{
		Content:  string(content),
		Metadata: meta,
		StoredAt: time.Now().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal content envelope: %w", err)
	}

	if s.maxBytes > 0 && int64(len(doc)) > s.maxBytes {
		return nil, fmt.Errorf("content size %d exceeds ceiling %d", len(doc), s.maxBytes)
	}

	p, err := s.api.Unixfs().Add(ctx, files.NewReaderFile(bytes.NewReader(doc)), func(settings *options.UnixfsAddSettings) error {
		settings.CidVersion = 1
		settings.Chunker = "size-262144"
		settings.Pin = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add to IPFS: %w", err)
	}

	cidStr := strings.TrimPrefix(p.String(), "/ipfs/")
	sum := sha256.Sum256(doc)

	log.Debugf("stored content in IPFS: cid=%s size=%d campaign=%s", cidStr, len(doc), meta.CampaignID)

	return &StoredContent{
		ContentID:     cidStr,
		RetrievalURL:  fmt.Sprintf("%s/ipfs/%s", s.gatewayURL, cidStr),
		IntegrityHash: hex.EncodeToString(sum[:]),
		Size:          int64(len(doc)),
	}, nil
}

// Retrieve fetches a pinned envelope back by CID.
func (s *IPFSStore) Retrieve(ctx context.Context, cidStr string) ([]byte, error) {
	parsed, err := cid.Parse(cidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid CID %s: %w", cidStr, err)
	}

	node, err := s.api.Unixfs().Get(ctx, path.FromCid(parsed))
	if err != nil {
		return nil, fmt.Errorf("failed to get from IPFS: %w", err)
	}

	file := files.ToFile(node)
	if file == nil {
		return nil, fmt.Errorf("expected file from IPFS")
	}
	defer file.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(file); err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	return buf.Bytes(), nil
}

// IsAvailable checks node connectivity.
func (s *IPFSStore) IsAvailable(ctx context.Context) bool {
	_, err := s.api.Key().Self(ctx)
	return err == nil
}
