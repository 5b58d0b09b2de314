// Package archive keeps an immutable copy of every settlement event in S3.
// Objects are written with a create-only precondition, so an archived
// settlement can never be overwritten.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/samu-project/rewards/settlement/pkg/metrics"
	"github.com/samu-project/rewards/settlement/pkg/rewards"
)

const sinkName = "s3"

var (
	ErrExists   = errors.New("archive object already exists")
	ErrNotFound = errors.New("archive object not found")
)

// S3API is the part of the S3 client the archive uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Config struct {
	Logger *slog.Logger
	Client S3API
	Bucket string
	Prefix string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("s3 client is required")
	}
	if cfg.Bucket == "" {
		return errors.New("bucket is required")
	}
	return nil
}

type Archive struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Archive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Archive{log: cfg.Logger, cfg: cfg}, nil
}

// document is the archived form of an event.
type document struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Time    string          `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// DistributionKey is the object key of a settlement's archived event.
func (a *Archive) DistributionKey(contestID uint64, index uint8) string {
	return path.Join(a.cfg.Prefix, "distributions", strconv.FormatUint(contestID, 10), strconv.Itoa(int(index))+".json")
}

func (a *Archive) eventKey(event rewards.Event) string {
	if d, ok := event.Payload.(rewards.RewardsDistributed); ok {
		return a.DistributionKey(d.ContestID, d.DistributionIndex)
	}
	t := event.Time.UTC()
	return path.Join(a.cfg.Prefix, "events", t.Format("2006/01/02"), event.ID.String()+".json")
}

func (a *Archive) Emit(ctx context.Context, event rewards.Event) {
	err := a.Put(ctx, event)
	switch {
	case errors.Is(err, ErrExists):
		a.log.Info("archive: event already archived", "event_id", event.ID.String(), "key", a.eventKey(event))
	case err != nil:
		metrics.EventSinkErrorsTotal.WithLabelValues(sinkName).Inc()
		a.log.Error("archive: failed to archive event", "event_id", event.ID.String(), "error", err)
	}
}

// Put writes the event once. A second write to the same key returns ErrExists.
func (a *Archive) Put(ctx context.Context, event rewards.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	body, err := json.Marshal(document{
		ID:      event.ID.String(),
		Type:    string(event.Type()),
		Time:    event.Time.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	key := a.eventKey(event)
	_, err = a.cfg.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if isPreconditionFailed(err) {
		return fmt.Errorf("%w: %s", ErrExists, key)
	}
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	a.log.Debug("archive: event archived", "key", key)
	return nil
}

// Distribution returns the archived settlement event for a key.
func (a *Archive) Distribution(ctx context.Context, contestID uint64, index uint8) (*rewards.RewardsDistributed, error) {
	key := a.DistributionKey(contestID, index)
	out, err := a.cfg.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
	})
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	var d rewards.RewardsDistributed
	if err := json.Unmarshal(doc.Payload, &d); err != nil {
		return nil, fmt.Errorf("failed to decode payload of %s: %w", key, err)
	}
	return &d, nil
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}
