package gateway

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// defaultCertValidity is the validity window for a generated
// self-signed certificate (§4.2).
const defaultCertValidity = 365 * 24 * time.Hour

// TLS loader errors (§4.2): LoadServerTLS wraps one of these when a
// file is missing or the key file holds no PEM block. Any other
// certificate/key parse failure is returned as a "parse certificate/key"
// error wrapping the crypto/tls error, not as one of these sentinels.
var (
	ErrCertNotFound = fmt.Errorf("certificate file not found")
	ErrKeyNotFound  = fmt.Errorf("key file not found")
	ErrNoKeyFound   = fmt.Errorf("no private key found in PEM data")
)

// LoadServerTLS reads a PEM-encoded certificate chain and private key
// (PKCS#8 or SEC1/PKCS#1, via tls.X509KeyPair which accepts both) and
// builds a server-side TLS config advertising TLS 1.2 and 1.3 with
// ALPN offering h2 and http/1.1 (§4.2).
func LoadServerTLS(certPath, keyPath string) (*tls.Config, error) {
	if _, err := os.Stat(certPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCertNotFound, certPath)
	}
	if _, err := os.Stat(keyPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyPath)
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		if block, data := pemDecodeFirst(keyPath); block == nil && data != nil {
			// The key file exists and decoded as bytes but contained
			// no PEM block at all — no usable private key.
			return nil, fmt.Errorf("%w: %s", ErrNoKeyFound, keyPath)
		}
		return nil, fmt.Errorf("parse certificate/key: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS13,
		NextProtos:   []string{"h2", "http/1.1"},
	}, nil
}

func pemDecodeFirst(path string) (*pem.Block, []byte) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}
	block, _ := pem.Decode(data)
	return block, data
}

// GenerateSelfSigned produces a self-signed ECDSA P-256 certificate
// valid for hostname (plus localhost/127.0.0.1 as SANs), writing PEM
// files to outDir with permissions 0644 (cert) and 0600 (key) and a
// 365-day validity window (§4.2).
func GenerateSelfSigned(hostname, outDir string) (certPath, keyPath string, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: hostname},
		NotBefore:    now.Add(-5 * time.Minute),
		NotAfter:     now.Add(defaultCertValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     dedupeStrings([]string{hostname, "localhost"}),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return "", "", fmt.Errorf("create certificate: %w", err)
	}

	if err = os.MkdirAll(outDir, 0755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}

	certPath = filepath.Join(outDir, "server.crt")
	keyPath = filepath.Join(outDir, "server.key")

	if err = writePEM(certPath, "CERTIFICATE", der, 0644); err != nil {
		return "", "", err
	}

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return "", "", fmt.Errorf("marshal private key: %w", err)
	}
	if err = writePEM(keyPath, "EC PRIVATE KEY", keyBytes, 0600); err != nil {
		return "", "", err
	}

	return certPath, keyPath, nil
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: der})
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
