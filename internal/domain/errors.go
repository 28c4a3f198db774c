// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

var ErrNotFound = errors.New("credential not found")
var ErrValidation = errors.New("validation failed")
var ErrQuotaExceeded = errors.New("quota exceeded")
var ErrPayloadTooLarge = errors.New("payload exceeds per-request cap")
var ErrReservationNotFound = errors.New("reservation not found")
var ErrIntentTextRequired = errors.New("intent text is required")
var ErrIntentTextTooLong = errors.New("intent text exceeds maximum length")
var ErrUnknownTemplate = errors.New("unknown scope template")
