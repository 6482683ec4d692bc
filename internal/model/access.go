package model

import "fmt"

// AccessPolicy decides who may act on a resource beyond being signed in.
type AccessPolicy string

const (
	// AccessAny lets every authenticated caller through.
	AccessAny AccessPolicy = "any"
	// AccessParticipant restricts access to the parties of the resource.
	AccessParticipant AccessPolicy = "participant"
)

func ParseAccessPolicy(s string) (AccessPolicy, error) {
	switch AccessPolicy(s) {
	case "", AccessAny:
		return AccessAny, nil
	case AccessParticipant:
		return AccessParticipant, nil
	}
	return "", fmt.Errorf("unknown access policy %q", s)
}
