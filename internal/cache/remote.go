package cache

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/manila-build/manila/internal/model"
	"github.com/manila-build/manila/internal/tracing"
)

// Remote is a composable wrapper around Local: reads are served
// entirely from the local tier, and a successful CacheArtifact
// additionally attempts to mirror the output to an HTTP endpoint. A
// remote push failure never fails the local build — it is logged and
// discarded.
type Remote struct {
	*Local

	client      *http.Client
	baseURL     string
	bearerToken string
}

// NewRemote wraps local with a remote tier at baseURL. bearerToken may
// be empty, in which case requests are sent unauthenticated.
func NewRemote(local *Local, baseURL, bearerToken string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Remote{
		Local:       local,
		client:      client,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		bearerToken: bearerToken,
	}
}

// CheckAvailability performs GET /ping and fails closed: any transport
// error or non-2xx response is treated as "remote unavailable". Callers
// invoke this once before accepting the remote tier as usable; engine.New
// treats a failure as fatal and returns the error.
func (r *Remote) CheckAvailability(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/ping", nil)
	if err != nil {
		return &model.RemoteUnavailableError{Endpoint: r.baseURL, Err: err}
	}
	r.authenticate(req)

	ctx, span := tracing.StartRemoteCacheSpan(ctx, r.baseURL, "ping")
	defer span.End()

	resp, err := r.client.Do(req)
	if err != nil {
		tracing.RecordError(ctx, err)
		return &model.RemoteUnavailableError{Endpoint: r.baseURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		return &model.RemoteUnavailableError{Endpoint: r.baseURL, Err: err}
	}
	return nil
}

// PushArtifact mirrors an already-locally-cached entry to the remote
// tier: PUT metadata, then POST a zip of the output tree. Both steps
// retry with exponential backoff and jitter; failures of either step
// are logged as *model.RemotePushFailedError and swallowed — the local
// cache write this follows already stands.
func (r *Remote) PushArtifact(ctx context.Context, fingerprint, project, artifact, blueprintType string, output model.ArtifactOutput) {
	if err := r.pushMetadata(ctx, fingerprint, project, artifact, blueprintType); err != nil {
		log.Warn().Str("fingerprint", fingerprint).Err(err).Msg("remote cache: metadata push failed")
		return
	}
	if err := r.pushOutput(ctx, fingerprint, output); err != nil {
		log.Warn().Str("fingerprint", fingerprint).Err(err).Msg("remote cache: output push failed")
	}
}

func (r *Remote) pushMetadata(ctx context.Context, fingerprint, project, artifact, blueprintType string) error {
	body, err := json.Marshal(struct {
		Name    string `json:"name"`
		Project string `json:"project"`
		Type    string `json:"type"`
	}{Name: artifact, Project: project, Type: blueprintType})
	if err != nil {
		return &model.RemotePushFailedError{Fingerprint: fingerprint, Stage: "metadata", Err: err}
	}

	_, err = r.retry(ctx, "metadata", func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.baseURL+"/artifacts/"+fingerprint, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		r.authenticate(req)

		resp, err := r.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return struct{}{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return &model.RemotePushFailedError{Fingerprint: fingerprint, Stage: "metadata", Err: err}
	}
	return nil
}

func (r *Remote) pushOutput(ctx context.Context, fingerprint string, output model.ArtifactOutput) error {
	archive, err := zipOutput(output)
	if err != nil {
		return &model.RemotePushFailedError{Fingerprint: fingerprint, Stage: "output", Err: err}
	}

	_, err = r.retry(ctx, "output", func() (struct{}, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", "artifact.zip")
		if err != nil {
			return struct{}{}, err
		}
		if _, err := part.Write(archive); err != nil {
			return struct{}{}, err
		}
		if err := mw.Close(); err != nil {
			return struct{}{}, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/artifacts/"+fingerprint+"/output", &buf)
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		r.authenticate(req)

		resp, err := r.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return struct{}{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return &model.RemotePushFailedError{Fingerprint: fingerprint, Stage: "output", Err: err}
	}
	return nil
}

// retry wraps fn with bounded exponential backoff and jitter, tracing
// the attempt as a remote cache span.
func (r *Remote) retry(ctx context.Context, op string, fn func() (struct{}, error)) (struct{}, error) {
	ctx, span := tracing.StartRemoteCacheSpan(ctx, r.baseURL, op)
	defer span.End()

	result, err := backoff.Retry(ctx, func() (struct{}, error) {
		out, err := fn()
		if err != nil {
			return out, err
		}
		return out, nil
	}, backoff.WithMaxTries(4), backoff.WithBackOff(backoff.NewExponentialBackOff()))
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return result, err
}

func (r *Remote) authenticate(req *http.Request) {
	if r.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearerToken)
	}
}

// zipOutput archives every file in output.FilePaths with entry paths
// relative to output.ArtifactRoot.
func zipOutput(output model.ArtifactOutput) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, path := range output.FilePaths {
		rel, err := filepath.Rel(output.ArtifactRoot, path)
		if err != nil {
			return nil, err
		}
		rel = filepath.ToSlash(rel)

		w, err := zw.Create(rel)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		_, copyErr := io.Copy(w, f)
		closeErr := f.Close()
		if copyErr != nil {
			return nil, copyErr
		}
		if closeErr != nil {
			return nil, closeErr
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
