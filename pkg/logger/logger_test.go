/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"context"
	"strings"
	"testing"

	otellog "go.opentelemetry.io/otel/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(context.Background(), Config{Level: "chatty"})
	require.Error(t, err)
}

func TestNewAcceptsKnownLevels(t *testing.T) {
	for _, level := range []string{"trace", "debug", "info", "warn", "error"} {
		_, err := New(context.Background(), Config{Level: level})
		require.NoError(t, err, "level %s", level)
	}
}

func TestOTelWriterRequiresEndpoint(t *testing.T) {
	_, err := NewOTelWriter(context.Background(), OTelConfig{Enabled: true})
	assert.ErrorIs(t, err, ErrOTelEndpointRequired)

	_, err = NewOTelWriter(context.Background(), OTelConfig{})
	assert.ErrorIs(t, err, ErrOTelDisabled)
}

func TestMapZerologLevel(t *testing.T) {
	tests := map[string]otellog.Severity{
		"trace":   otellog.SeverityTrace,
		"debug":   otellog.SeverityDebug,
		"info":    otellog.SeverityInfo,
		"warn":    otellog.SeverityWarn,
		"warning": otellog.SeverityWarn,
		"error":   otellog.SeverityError,
		"fatal":   otellog.SeverityFatal,
		"panic":   otellog.SeverityFatal,
		"other":   otellog.SeverityInfo,
	}

	for level, want := range tests {
		assert.Equal(t, want, mapZerologLevel(level), level)
	}
}

func TestTruncateBoundsLongValues(t *testing.T) {
	long := strings.Repeat("x", maxAttributeValueLength*2)

	got := truncate(long)
	assert.Len(t, got, maxAttributeValueLength)
	assert.True(t, strings.HasSuffix(got, "..."))

	short := "short"
	assert.Equal(t, short, truncate(short))
}

func TestTestLoggerDiscards(t *testing.T) {
	log := NewTestLogger()
	log.Info().Str("k", "v").Msg("dropped")
	log.WithComponent("unit").Error().Msg("also dropped")
}
