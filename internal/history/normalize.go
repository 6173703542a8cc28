package history

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrEmptyResource is returned by Normalize for blank input.
var ErrEmptyResource = errors.New("empty resource")

// DefaultScheme is prepended to resources given without one.
const DefaultScheme = "http"

var schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)

// Normalize turns a user-supplied resource into an absolute URL.
// Input without a "scheme://" prefix is treated as http. Normalizing an
// already normalized value returns it unchanged.
func Normalize(resource string) (string, error) {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return "", ErrEmptyResource
	}

	if !schemePrefix.MatchString(resource) {
		resource = DefaultScheme + "://" + resource
	}

	u, err := url.Parse(resource)
	if err != nil {
		return "", fmt.Errorf("parse resource: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("resource %q has no host", resource)
	}
	return resource, nil
}
