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

package telemetry

import (
	"sort"
	"strconv"
	"strings"

	"github.com/carverauto/netwatch/pkg/models"
)

var lineEscaper = strings.NewReplacer(",", `\,`, " ", `\ `, "=", `\=`)

// encodeLine renders one sample in line protocol:
//
//	metric,label=value,label=value value=42 1700000000000000000
//
// Labels are sorted so encoded output is deterministic.
func encodeLine(b *strings.Builder, s *models.Sample) {
	b.WriteString(lineEscaper.Replace(s.Metric))

	if len(s.Labels) > 0 {
		keys := make([]string, 0, len(s.Labels))
		for k := range s.Labels {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, k := range keys {
			b.WriteByte(',')
			b.WriteString(lineEscaper.Replace(k))
			b.WriteByte('=')
			b.WriteString(lineEscaper.Replace(s.Labels[k]))
		}
	}

	b.WriteString(" value=")
	b.WriteString(strconv.FormatFloat(s.Value, 'g', -1, 64))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(s.Timestamp.UnixNano(), 10))
	b.WriteByte('\n')
}

// encodeBatch renders a batch as newline-separated lines.
func encodeBatch(samples []*models.Sample) string {
	var b strings.Builder

	for _, s := range samples {
		encodeLine(&b, s)
	}

	return b.String()
}
