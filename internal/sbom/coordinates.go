package sbom

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultClearlyDefinedBaseURL is the public ClearlyDefined API.
//
// See https://api.clearlydefined.io/api-docs/
const DefaultClearlyDefinedBaseURL = "https://api.clearlydefined.io"

// providerForPurlType maps a purl type to the default ClearlyDefined
// coordinate type and provider.
var providerForPurlType = map[string][2]string{
	"maven":  {"maven", "mavencentral"},
	"npm":    {"npm", "npmjs"},
	"nuget":  {"nuget", "nuget"},
	"pypi":   {"pypi", "pypi"},
	"gem":    {"gem", "rubygems"},
	"golang": {"go", "golang"},
	"cargo":  {"crate", "cratesio"},
}

// DefinitionURI builds the ClearlyDefined definitions URI for a coordinate
// tuple. An empty namespace is encoded as "-" per the coordinate scheme, and
// an empty baseURL falls back to the public API.
func DefinitionURI(baseURL, coordType, provider, namespace, name, revision string) string {
	if baseURL == "" {
		baseURL = DefaultClearlyDefinedBaseURL
	}
	if namespace == "" {
		namespace = "-"
	}
	return fmt.Sprintf("%s/definitions/%s/%s/%s/%s/%s",
		strings.TrimSuffix(baseURL, "/"),
		url.PathEscape(coordType),
		url.PathEscape(provider),
		url.PathEscape(namespace),
		url.PathEscape(name),
		url.PathEscape(revision))
}

// DefinitionURIFromPurl derives the definitions URI from a package URL like
// "pkg:maven/org.example/artifact@1.0.0". It fails for purl types that have
// no known ClearlyDefined provider and for purls without a version.
func DefinitionURIFromPurl(baseURL, purl string) (string, error) {
	rest, ok := strings.CutPrefix(purl, "pkg:")
	if !ok {
		return "", fmt.Errorf("not a package URL: %q", purl)
	}

	// Strip qualifiers and subpath; neither participates in coordinates.
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}

	rest, revision, ok := strings.Cut(rest, "@")
	if !ok || revision == "" {
		return "", fmt.Errorf("package URL has no version: %q", purl)
	}

	segments := strings.Split(rest, "/")
	if len(segments) < 2 {
		return "", fmt.Errorf("package URL has no name: %q", purl)
	}

	purlType := segments[0]
	mapping, ok := providerForPurlType[purlType]
	if !ok {
		return "", fmt.Errorf("no ClearlyDefined provider for purl type %q", purlType)
	}

	name, err := url.PathUnescape(segments[len(segments)-1])
	if err != nil {
		return "", fmt.Errorf("invalid package URL name: %q", purl)
	}
	namespace := strings.Join(segments[1:len(segments)-1], "/")
	if namespace != "" {
		if namespace, err = url.PathUnescape(namespace); err != nil {
			return "", fmt.Errorf("invalid package URL namespace: %q", purl)
		}
	}

	return DefinitionURI(baseURL, mapping[0], mapping[1], namespace, name, revision), nil
}
