package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

const (
	HeaderSigner    = "X-Rewards-Signer"
	HeaderSignature = "X-Rewards-Signature"
	HeaderTimestamp = "X-Rewards-Timestamp"
)

var (
	errMissingSignature = errors.New("missing signature headers")
	errBadSignature     = errors.New("signature does not verify")
	errStaleSignature   = errors.New("signed timestamp outside the accepted window")
)

type signerKey struct{}

// signerFrom returns the verified signer of the request.
func signerFrom(ctx context.Context) solana.PublicKey {
	pk, _ := ctx.Value(signerKey{}).(solana.PublicKey)
	return pk
}

// SigningMessage is the byte string a caller signs: the unix timestamp, the
// method and path, and the raw body, separated by newlines.
func SigningMessage(timestamp int64, method, path string, body []byte) []byte {
	var b bytes.Buffer
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('\n')
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(path)
	b.WriteByte('\n')
	b.Write(body)
	return b.Bytes()
}

// SignRequest sets the signature headers on req for body.
func SignRequest(req *http.Request, key solana.PrivateKey, now time.Time, body []byte) error {
	ts := now.Unix()
	sig, err := key.Sign(SigningMessage(ts, req.Method, req.URL.Path, body))
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	req.Header.Set(HeaderSigner, key.PublicKey().String())
	req.Header.Set(HeaderSignature, sig.String())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	return nil
}

// requireSignature verifies the ed25519 signature of the request and stores
// the signer in the request context.
func (s *Server) requireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
		if err != nil {
			s.writeError(w, r, badRequest(fmt.Errorf("failed to read body: %w", err)))
			return
		}
		signer, err := s.verify(r, body)
		if err != nil {
			s.log.Debug("server: signature rejected", "path", r.URL.Path, "error", err)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "InvalidSignature", Message: err.Error()})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), signerKey{}, signer)))
	})
}

func (s *Server) verify(r *http.Request, body []byte) (solana.PublicKey, error) {
	signerHdr, sigHdr, tsHdr := r.Header.Get(HeaderSigner), r.Header.Get(HeaderSignature), r.Header.Get(HeaderTimestamp)
	if signerHdr == "" || sigHdr == "" || tsHdr == "" {
		return solana.PublicKey{}, errMissingSignature
	}
	signerBytes, err := decodeBase58(signerHdr, ed25519.PublicKeySize)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid signer: %w", err)
	}
	sigBytes, err := decodeBase58(sigHdr, ed25519.SignatureSize)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid signature: %w", err)
	}
	signer := solana.PublicKeyFromBytes(signerBytes)
	sig := solana.SignatureFromBytes(sigBytes)
	ts, err := strconv.ParseInt(tsHdr, 10, 64)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	age := s.cfg.Clock.Since(time.Unix(ts, 0))
	if age > s.cfg.SignatureMaxAge || age < -s.cfg.SignatureMaxAge {
		return solana.PublicKey{}, errStaleSignature
	}
	if !sig.Verify(signer, SigningMessage(ts, r.Method, r.URL.Path, body)) {
		return solana.PublicKey{}, errBadSignature
	}
	return signer, nil
}

func decodeBase58(s string, size int) ([]byte, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, fmt.Errorf("expected %d bytes, got %d", size, len(b))
	}
	return b, nil
}
