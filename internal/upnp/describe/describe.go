// Package describe fetches and parses UPnP device description documents.
package describe

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/castpoint/castpoint/pkg/cast"
)

// Description is the subset of a device description document we consume.
type Description struct {
	URLBase string `xml:"URLBase"`
	Device  struct {
		DeviceType   string    `xml:"deviceType"`
		FriendlyName string    `xml:"friendlyName"`
		Manufacturer string    `xml:"manufacturer"`
		ModelName    string    `xml:"modelName"`
		UDN          string    `xml:"UDN"`
		Services     []Service `xml:"serviceList>service"`
	} `xml:"device"`
}

// Service is one advertised service endpoint.
type Service struct {
	ServiceType string `xml:"serviceType"`
	ControlURL  string `xml:"controlURL"`
}

// Fetch retrieves and parses the description document at location.
func Fetch(ctx context.Context, client *http.Client, location string) (*Description, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, cast.WrapErr(cast.CategoryInvalidParameter, "bad descriptor location", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, cast.WrapErr(cast.CategoryNetwork, "fetch device descriptor", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, cast.Errf(cast.CategoryDeviceConnection, "descriptor fetch failed: %s", resp.Status)
	}
	var desc Description
	if err := xml.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return nil, cast.WrapErr(cast.CategoryParsing, "parse device descriptor", err)
	}
	if strings.TrimSpace(desc.Device.UDN) == "" {
		return nil, cast.Errf(cast.CategoryParsing, "descriptor missing UDN")
	}
	return &desc, nil
}

// UDN returns the device identity without the uuid: prefix.
func (d *Description) UDN() string {
	return strings.TrimPrefix(strings.TrimSpace(d.Device.UDN), "uuid:")
}

// BaseURL determines the base for resolving relative control URLs.
func (d *Description) BaseURL(location string) string {
	if strings.TrimSpace(d.URLBase) != "" {
		return strings.TrimRight(d.URLBase, "/")
	}
	u, err := url.Parse(location)
	if err != nil {
		return location
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}

// ServiceControlURLs maps each advertised service type to its absolute
// control URL.
func (d *Description) ServiceControlURLs(location string) map[string]string {
	base := d.BaseURL(location)
	out := make(map[string]string, len(d.Device.Services))
	for _, svc := range d.Device.Services {
		if strings.TrimSpace(svc.ServiceType) == "" || strings.TrimSpace(svc.ControlURL) == "" {
			continue
		}
		out[svc.ServiceType] = ResolveURL(base, svc.ControlURL)
	}
	return out
}

// ResolveURL resolves ref against baseURL, tolerating already-absolute refs.
func ResolveURL(baseURL string, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return baseURL + ref
	}
	rel, err := url.Parse(ref)
	if err != nil {
		base.Path = path.Join(base.Path, ref)
		return base.String()
	}
	return base.ResolveReference(rel).String()
}
