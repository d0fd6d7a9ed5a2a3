package http

import (
	validator "github.com/go-playground/validator/v10"
)

// validate applies the struct tags on request payloads. A single instance is
// shared because it caches parsed struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())
