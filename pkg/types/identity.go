// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import (
	"context"
	"fmt"
)

// Identity is the authentication context every operation carries:
// opaque tenant and user identifiers. Both are validated at the API
// boundary and treated as opaque strings everywhere else.
type Identity struct {
	TenantID string
	UserID   string
}

// maxIdentityLength is the maximum allowed length of a tenant or user id.
const maxIdentityLength = 256

// Validate rejects empty identifiers, identifiers longer than 256
// characters, and identifiers containing control characters.
func (id Identity) Validate() error {
	if err := validateOpaqueID("tenant ID", id.TenantID); err != nil {
		return NewError(KindInvalidArgument, err.Error())
	}
	if err := validateOpaqueID("user ID", id.UserID); err != nil {
		return NewError(KindInvalidArgument, err.Error())
	}
	return nil
}

func validateOpaqueID(label, id string) error {
	if id == "" {
		return fmt.Errorf("%s must not be empty", label)
	}
	if len(id) > maxIdentityLength {
		return fmt.Errorf("%s exceeds maximum length of %d characters (got %d)", label, maxIdentityLength, len(id))
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x20 {
			return fmt.Errorf("%s contains control character at position %d (byte 0x%02x)", label, i, id[i])
		}
	}
	return nil
}

// identityKey is the context key for the caller identity.
type identityKey struct{}

// correlationKey is the context key for the request correlation id.
type correlationKey struct{}

// ContextWithIdentity returns a new context with the caller identity
// attached.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext extracts the caller identity from the context.
// Returns a zero Identity and false when none is attached.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// ContextWithCorrelationID returns a new context carrying the request
// correlation id used to tie log lines and spans together.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFromContext extracts the correlation id, or "" when none
// is attached.
func CorrelationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok {
		return v
	}
	return ""
}
