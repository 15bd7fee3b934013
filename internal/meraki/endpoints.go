package meraki

import "net/url"

// endpoint joins escaped path segments onto the base URL.
func (c *Client) endpoint(segments ...string) string {
	u := *c.BaseURL
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	return u.JoinPath(escaped...).String()
}

func (c *Client) OrganizationsURL() string {
	return c.endpoint("organizations")
}

func (c *Client) NetworksURL(orgID string) string {
	return c.endpoint("organizations", orgID, "networks")
}

func (c *Client) DeviceStatusesURL(orgID string) string {
	return c.endpoint("organizations", orgID, "deviceStatuses")
}

func (c *Client) DevicesURL(orgID string) string {
	return c.endpoint("organizations", orgID, "devices")
}

func (c *Client) UplinksLossAndLatencyURL(orgID string) string {
	return c.endpoint("organizations", orgID, "uplinksLossAndLatency")
}

func (c *Client) DeviceUplinkURL(networkID, serial string) string {
	return c.endpoint("networks", networkID, "devices", serial, "uplink")
}

func (c *Client) DevicePerformanceURL(networkID, serial string) string {
	return c.endpoint("networks", networkID, "devices", serial, "performance")
}

func (c *Client) DeviceLossAndLatencyURL(networkID, serial string) string {
	return c.endpoint("networks", networkID, "devices", serial, "lossAndLatencyHistory")
}

func (c *Client) DeviceClientsURL(serial string) string {
	return c.endpoint("devices", serial, "clients")
}

func (c *Client) SyslogServersURL(networkID string) string {
	return c.endpoint("networks", networkID, "syslogServers")
}
