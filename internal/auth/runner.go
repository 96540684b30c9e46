package auth

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// CommandRunner is the minimal collaborator an Authenticator needs from
// a connection: the ability to run a single command and get its raw
// reply document back. It exists so this package never imports the
// connection package (which imports this one to run authenticators),
// per the adapter shape design note §9 recommends for avoiding
// duplication between sync paths.
type CommandRunner interface {
	RunCommand(ctx context.Context, db string, cmd bson.D) (bson.Raw, error)
}

// commandOK reports whether a command reply's "ok" field is truthy.
func commandOK(reply bson.Raw) bool {
	v, err := reply.LookupErr("ok")
	if err != nil {
		return false
	}
	switch v.Type {
	case bson.TypeDouble:
		f, _ := v.DoubleOK()
		return f != 0
	case bson.TypeInt32:
		i, _ := v.Int32OK()
		return i != 0
	case bson.TypeBoolean:
		b, _ := v.BooleanOK()
		return b
	default:
		return false
	}
}

func errMsg(reply bson.Raw) string {
	v, err := reply.LookupErr("errmsg")
	if err != nil {
		return ""
	}
	s, _ := v.StringValueOK()
	return s
}
