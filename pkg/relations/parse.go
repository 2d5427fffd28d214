package relations

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/airbyte-operator/pkg/types"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultDatabaseName is used when the database fact names none
	DefaultDatabaseName = "airbyte-k8s_db"
	// DefaultS3Endpoint is used when the s3 fact names no endpoint
	DefaultS3Endpoint = "https://s3.amazonaws.com"
)

// ErrMalformed is returned for fact files that cannot be turned into a fact
var ErrMalformed = errors.New("malformed fact")

type peerFile struct {
	Ready bool `yaml:"ready"`
}

type databaseFile struct {
	Endpoints string `yaml:"endpoints"`
	Host      string `yaml:"host"`
	Port      string `yaml:"port"`
	Database  string `yaml:"database"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type minioFile struct {
	Service   string `yaml:"service"`
	Namespace string `yaml:"namespace"`
	Port      int    `yaml:"port"`
	Secure    bool   `yaml:"secure"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access-key"`
	SecretKey string `yaml:"secret-key"`
	Region    string `yaml:"region"`
}

type s3File struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Path      string `yaml:"path"`
	URIStyle  string `yaml:"s3-uri-style"`
	AccessKey string `yaml:"access-key"`
	SecretKey string `yaml:"secret-key"`
}

// Parse turns the YAML body of a fact file into a fact of the given kind
func Parse(kind types.FactKind, data []byte) (*types.Fact, error) {
	var (
		fact *types.Fact
		err  error
	)
	switch kind {
	case types.FactPeer:
		fact, err = parsePeer(data)
	case types.FactDatabase:
		fact, err = parseDatabase(data)
	case types.FactMinio:
		fact, err = parseMinio(data)
	case types.FactS3:
		fact, err = parseS3(data)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformed, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}
	return fact, nil
}

func parsePeer(data []byte) (*types.Fact, error) {
	var f peerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &types.Fact{Kind: types.FactPeer, PeerReady: f.Ready}, nil
}

// parseDatabase accepts either host and port, or a comma-separated list of
// host:port endpoints of which the first is used
func parseDatabase(data []byte) (*types.Fact, error) {
	var f databaseFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	host, port := strings.TrimSpace(f.Host), strings.TrimSpace(f.Port)
	if f.Endpoints != "" {
		first := strings.TrimSpace(strings.Split(f.Endpoints, ",")[0])
		h, p, ok := strings.Cut(first, ":")
		if !ok || h == "" || p == "" {
			return nil, fmt.Errorf("endpoint %q is not host:port", first)
		}
		host, port = h, p
	}
	if host == "" {
		return nil, errors.New("no host or endpoints")
	}
	if port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return nil, fmt.Errorf("port %q is not a number", port)
		}
	}

	name := strings.TrimSpace(f.Database)
	if name == "" {
		name = DefaultDatabaseName
	}

	return &types.Fact{
		Kind: types.FactDatabase,
		Database: &types.DatabaseConnection{
			Host:     host,
			Port:     port,
			Name:     name,
			User:     f.Username,
			Password: f.Password,
		},
	}, nil
}

func parseMinio(data []byte) (*types.Fact, error) {
	var f minioFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(strings.TrimSpace(f.Endpoint), "/")
	if endpoint == "" && f.Service != "" {
		endpoint = ServiceEndpoint(f.Service, f.Namespace, f.Port, f.Secure)
	}

	return &types.Fact{
		Kind: types.FactMinio,
		ObjectStore: &types.ObjectStoreConnection{
			Kind:      types.StorageMinio,
			Endpoint:  endpoint,
			AccessKey: strings.TrimSpace(f.AccessKey),
			SecretKey: strings.TrimSpace(f.SecretKey),
			Region:    strings.TrimSpace(f.Region),
			PathStyle: true,
		},
	}, nil
}

func parseS3(data []byte) (*types.Fact, error) {
	var f s3File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(strings.TrimSpace(f.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultS3Endpoint
	}
	region := strings.TrimSpace(f.Region)

	return &types.Fact{
		Kind: types.FactS3,
		ObjectStore: &types.ObjectStoreConnection{
			Kind:      types.StorageS3,
			Endpoint:  RegionalEndpoint(endpoint, region),
			AccessKey: strings.TrimSpace(f.AccessKey),
			SecretKey: strings.TrimSpace(f.SecretKey),
			Region:    region,
			PathStyle: strings.TrimSpace(f.URIStyle) == "path",
			Bucket:    strings.Trim(strings.TrimSpace(f.Bucket), "/"),
		},
	}, nil
}

// ServiceEndpoint builds the in-cluster URL of a Kubernetes service
func ServiceEndpoint(service, namespace string, port int, secure bool) string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s.%s.svc.cluster.local:%d", scheme, service, namespace, port)
}

var awsSuffixes = []string{"amazonaws.com.cn", "amazonaws.com"}

// RegionalEndpoint rewrites an AWS S3 endpoint to the regional host for
// region. Endpoints of other providers are returned unchanged.
func RegionalEndpoint(endpoint, region string) string {
	if region == "" {
		return endpoint
	}
	scheme, host, ok := strings.Cut(endpoint, "://")
	if !ok {
		return endpoint
	}
	host, _, _ = strings.Cut(host, "/")

	suffix := "amazonaws.com"
	if strings.HasPrefix(region, "cn-") {
		suffix = "amazonaws.com.cn"
	}
	for _, s := range awsSuffixes {
		if strings.HasSuffix(host, "."+s) {
			if s != suffix {
				return endpoint
			}
			return fmt.Sprintf("%s://s3.%s.%s", scheme, region, suffix)
		}
	}
	return endpoint
}
