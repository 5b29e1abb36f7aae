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

package config

import (
	"errors"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/models"
)

var (
	ErrDstMustBeNonNilPointer   = errors.New("dst must be a non-nil pointer")
	ErrDstMustBePointerToStruct = errors.New("dst must be a pointer to a struct")
)

// EnvOverrider overlays environment variables onto an already-loaded config.
// Nested struct fields map to underscore-separated names derived from the
// json tag: NETWATCH_DATABASE_HOST sets Config.Database.Host.
type EnvOverrider struct {
	logger logger.Logger
	prefix string
}

func NewEnvOverrider(log logger.Logger, prefix string) *EnvOverrider {
	return &EnvOverrider{logger: log, prefix: prefix}
}

// Apply walks dst and replaces field values for which a matching environment
// variable is set. Unknown or malformed values are skipped with a debug log.
func (e *EnvOverrider) Apply(dst interface{}) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return ErrDstMustBeNonNilPointer
	}

	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return ErrDstMustBePointerToStruct
	}

	e.applyStruct(v, strings.TrimSuffix(e.prefix, "_"))

	return nil
}

func (e *EnvOverrider) applyStruct(v reflect.Value, prefix string) {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		name := jsonFieldName(&fieldType)
		if name == "" {
			continue
		}

		envName := prefix + "_" + strings.ToUpper(name)

		if field.Kind() == reflect.Struct && fieldType.Type != reflect.TypeOf(time.Time{}) {
			e.applyStruct(field, envName)
			continue
		}

		raw, ok := os.LookupEnv(envName)
		if !ok {
			continue
		}

		if err := setField(field, raw); err != nil {
			if e.logger != nil {
				e.logger.Debug().
					Str("env", envName).
					Err(err).
					Msg("Skipping malformed environment override")
			}

			continue
		}

		if e.logger != nil {
			e.logger.Debug().Str("env", envName).Msg("Applied environment override")
		}
	}
}

func jsonFieldName(fieldType *reflect.StructField) string {
	tag := fieldType.Tag.Get("json")
	if tag == "" || tag == "-" {
		return ""
	}

	return strings.Split(tag, ",")[0]
}

var errUnsupportedFieldKind = errors.New("unsupported field kind")

func setField(field reflect.Value, raw string) error {
	// models.Duration accepts Go duration strings.
	if field.Type() == reflect.TypeOf(models.Duration(0)) {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}

		field.SetInt(int64(dur))

		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}

		field.SetBool(parsed)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}

		field.SetInt(parsed)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}

		field.SetUint(parsed)
	case reflect.Float32, reflect.Float64:
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}

		field.SetFloat(parsed)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(raw, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}

			field.Set(reflect.ValueOf(parts))

			return nil
		}

		return errUnsupportedFieldKind
	default:
		return errUnsupportedFieldKind
	}

	return nil
}
