package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"nearchat/client/api"
	"nearchat/client/model"
)

func printMessage(w io.Writer, m model.Message) {
	name := m.User.Name
	if name == "" {
		name = m.User.ID
	}
	body := m.Text
	switch {
	case m.Image != "":
		body = "[image] " + m.Image
	case m.Video != "":
		body = "[video] " + m.Video
	}
	status := ""
	if m.Pending {
		status = " (sending)"
	}
	fmt.Fprintf(w, "%s  %-20s %s%s%s  #%s\n",
		m.CreatedAt.Local().Format("Jan 02 15:04"), name, body, formatReactions(m.Reactions), status, m.ID)
}

func formatReactions(r model.Reactions) string {
	if r.Count() == 0 {
		return ""
	}
	keys := make([]string, 0, len(r))
	for k, list := range r {
		if len(list) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s%d", k, len(r[k]))
	}
	return "  [" + strings.Join(parts, " ") + "]"
}

func printUser(w io.Writer, u model.User) {
	fmt.Fprintf(w, "ID:       %s\n", u.ID)
	fmt.Fprintf(w, "Name:     %s\n", u.FullName)
	if u.Email != "" {
		fmt.Fprintf(w, "Email:    %s\n", u.Email)
	}
	if u.Program != "" {
		fmt.Fprintf(w, "Program:  %s\n", u.Program)
	}
	if u.ProfileImg != "" {
		fmt.Fprintf(w, "Avatar:   %s\n", u.ProfileImg)
	}
	fmt.Fprintf(w, "Premium:  %t\n", u.Premium)
}

// explain turns backend failures into the dialog the user should see. A
// blocked account gets its reason and unblock time.
func explain(err error) error {
	block := api.BlockOf(err)
	if block == nil {
		return err
	}
	msg := "your account is blocked"
	if block.Reason != "" {
		msg += ": " + block.Reason
	}
	if block.UnblockAt != nil {
		msg += fmt.Sprintf(" (until %s)", block.UnblockAt.Local().Format(time.RFC1123))
	}
	return errors.New(msg)
}
