// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

// ErrorClassifier defines methods for programmatic error handling.
// Every error type in this package implements it, so retry logic and
// reporting code can classify errors without a type switch per concrete
// type.
type ErrorClassifier interface {
	error

	// ErrorType returns a string identifying the error category.
	// Examples: "config", "provider", "timeout", "cancelled",
	// "expression", "state_transition".
	ErrorType() string

	// IsRetryable returns true if the operation should be retried:
	// provider and timeout failures are transient, everything else is
	// not.
	IsRetryable() bool
}

// Compile-time checks that every error type classifies itself.
var (
	_ ErrorClassifier = (*ConfigError)(nil)
	_ ErrorClassifier = (*ProviderError)(nil)
	_ ErrorClassifier = (*TimeoutError)(nil)
	_ ErrorClassifier = (*CancelledError)(nil)
	_ ErrorClassifier = (*ExpressionError)(nil)
	_ ErrorClassifier = (*InvalidStateTransitionError)(nil)
)
