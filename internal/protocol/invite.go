package protocol

import (
	"fmt"
	"net/url"
)

// InviteLink builds the codehive:// join URI for a room. The password, when
// set, rides as a query parameter so invite links paste straight into the
// agent.
func InviteLink(host string, port int, code, password string) string {
	link := fmt.Sprintf("codehive://%s:%d/join/%s", host, port, code)
	if password != "" {
		link += "?password=" + url.QueryEscape(password)
	}
	return link
}
