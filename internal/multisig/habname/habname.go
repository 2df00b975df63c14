// Package habname encodes group membership into the local identifier name
// held by the agent, so a wallet can rediscover which group an identifier
// belongs to after a restore.
//
// Current format:
//
//	v1.2.0.3:<1|0>-<groupId>-<userName>:<displayName>   group member
//	v1.2.0.3:<displayName>                              individual
//
// Legacy format (read-only):
//
//	<theme>:<1|0>-<groupId>:<displayName>
//	<theme>:<displayName>
package habname

import (
	"errors"
	"strings"
)

const Version = "v1.2.0.3"

var ErrInvalidName = errors.New("invalid identifier name")

// Parts is the decoded content of an identifier name.
type Parts struct {
	Version       string
	DisplayName   string
	IsGroupMember bool
	GroupID       string
	IsInitiator   bool
	UserName      string
	Theme         string
}

// Format renders parts in the current format.
func Format(p Parts) (string, error) {
	if p.DisplayName == "" || strings.Contains(p.DisplayName, ":") {
		return "", ErrInvalidName
	}
	if !p.IsGroupMember {
		return Version + ":" + p.DisplayName, nil
	}
	if p.GroupID == "" || strings.ContainsAny(p.GroupID, ":-") || strings.ContainsAny(p.UserName, ":-") {
		return "", ErrInvalidName
	}
	flag := "0"
	if p.IsInitiator {
		flag = "1"
	}
	return Version + ":" + flag + "-" + p.GroupID + "-" + p.UserName + ":" + p.DisplayName, nil
}

// Parse decodes either format.
func Parse(name string) (Parts, error) {
	if rest, ok := strings.CutPrefix(name, Version+":"); ok {
		return parseCurrent(rest)
	}
	return parseLegacy(name)
}

func parseCurrent(rest string) (Parts, error) {
	parts := strings.Split(rest, ":")
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return Parts{}, ErrInvalidName
		}
		return Parts{Version: Version, DisplayName: parts[0]}, nil
	case 2:
		group := strings.SplitN(parts[0], "-", 3)
		if len(group) != 3 || group[1] == "" || parts[1] == "" {
			return Parts{}, ErrInvalidName
		}
		return Parts{
			Version:       Version,
			DisplayName:   parts[1],
			IsGroupMember: true,
			IsInitiator:   group[0] == "1",
			GroupID:       group[1],
			UserName:      group[2],
		}, nil
	}
	return Parts{}, ErrInvalidName
}

func parseLegacy(name string) (Parts, error) {
	parts := strings.Split(name, ":")
	switch len(parts) {
	case 2:
		if parts[1] == "" {
			return Parts{}, ErrInvalidName
		}
		return Parts{Theme: parts[0], DisplayName: parts[1]}, nil
	case 3:
		group := strings.SplitN(parts[1], "-", 2)
		if len(group) != 2 || group[1] == "" || parts[2] == "" {
			return Parts{}, ErrInvalidName
		}
		return Parts{
			Theme:         parts[0],
			DisplayName:   parts[2],
			IsGroupMember: true,
			IsInitiator:   group[0] == "1",
			GroupID:       group[1],
		}, nil
	}
	return Parts{}, ErrInvalidName
}
