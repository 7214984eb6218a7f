// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Archiver mirrors published envelope bytes somewhere durable.
type Archiver interface {
	// Archive stores body for the user and content id and returns the
	// object location.
	Archive(ctx context.Context, userID, contentID string, body []byte) (string, error)

	Close() error
}

// GCSConfig configures the Cloud Storage mirror.
type GCSConfig struct {
	Bucket string `yaml:"bucket" toml:"bucket"`
	Prefix string `yaml:"prefix" toml:"prefix"`

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string `yaml:"credentials_file" toml:"credentials_file"`
}

// GCSArchiver writes one object per published envelope.
//
// # Description
//
// Objects are named {prefix}/{userID}/{contentID}.json and written with a
// does-not-exist precondition. Content ids are derived from the bytes, so an
// existing object already holds the same envelope and the write is skipped.
//
// # Thread Safety
//
// Safe for concurrent use.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewGCSArchiver creates a storage client for config.
func NewGCSArchiver(ctx context.Context, config GCSConfig, logger *slog.Logger, opts ...option.ClientOption) (*GCSArchiver, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("gcs archive: bucket is required")
	}
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &GCSArchiver{
		client: client,
		bucket: config.Bucket,
		prefix: config.Prefix,
		logger: logger,
	}, nil
}

// ObjectName returns the object path for a user's envelope.
func (a *GCSArchiver) ObjectName(userID, contentID string) string {
	return path.Join(a.prefix, userID, contentID+".json")
}

// Archive implements Archiver.
func (a *GCSArchiver) Archive(ctx context.Context, userID, contentID string, body []byte) (string, error) {
	name := a.ObjectName(userID, contentID)
	location := fmt.Sprintf("gs://%s/%s", a.bucket, name)

	obj := a.client.Bucket(a.bucket).Object(name).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.Metadata = map[string]string{
		"userId":    userID,
		"contentId": contentID,
	}

	if _, err := writer.Write(body); err != nil {
		_ = writer.Close()
		if alreadyExists(err) {
			return location, nil
		}
		return "", fmt.Errorf("failed to write GCS object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		if alreadyExists(err) {
			a.logger.Debug("Envelope already archived", "user_id", userID, "object", location)
			return location, nil
		}
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", name, err)
	}
	return location, nil
}

// Close implements Archiver.
func (a *GCSArchiver) Close() error {
	return a.client.Close()
}

// alreadyExists reports a failed does-not-exist precondition.
func alreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
