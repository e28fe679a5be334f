package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

func render(v map[string]any, text func(map[string]any)) error {
	switch outputFlag {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	if text != nil {
		text(v)
	}
	return nil
}

func str(v map[string]any, key string) string {
	s, _ := v[key].(string)
	return s
}

// num reads a Struct number, which always decodes as float64.
func num(v map[string]any, key string) int64 {
	f, _ := v[key].(float64)
	return int64(f)
}

func truthy(v map[string]any, key string) bool {
	b, _ := v[key].(bool)
	return b
}

func list(v map[string]any, key string) []map[string]any {
	raw, _ := v[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func millis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

func printChat(c map[string]any) {
	unread := ""
	if n := num(c, "unread_count"); n > 0 {
		unread = fmt.Sprintf(" (%d unread)", n)
	}
	fmt.Printf("%-36s  %-24s %s%s\n", str(c, "id"), str(c, "title"), millis(num(c, "last_message_at")), unread)
	if last := str(c, "last_message"); last != "" {
		fmt.Printf("%-36s  %s\n", "", last)
	}
}

func printMessage(m map[string]any) {
	who := "me "
	if truthy(m, "from_bot") {
		who = "bot"
	}
	state := ""
	if !truthy(m, "from_bot") && !truthy(m, "is_sent") {
		state = " [unsent]"
	}
	fmt.Printf("%s  %s  %s%s\n", millis(num(m, "timestamp")), who, str(m, "content"), state)
}
