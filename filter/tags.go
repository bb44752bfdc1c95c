package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

// AsInt parses the tag value as an int, 0 on error
func AsInt(v string) int64 {
	val, _ := strconv.ParseInt(v, 0, 64)
	return val
}

// AsFloat parses the tag value an a float64, 0.0 on error
func AsFloat(v string) float64 {
	val, _ := strconv.ParseFloat(v, 64)
	return val
}

// AsIntSlice parses the tag value as a comma-separated slice of int64s (0 in every unparsable item)
func AsIntSlice(v string) []int64 {
	parts := strings.Split(v, ",")
	res := make([]int64, len(parts))
	for i, part := range parts {
		val, _ := strconv.ParseInt(strings.TrimSpace(part), 0, 64)
		res[i] = val
	}
	return res
}

// AsFloatSlice parses the tag value as a comma-separated slice of float64s (0.0 in every unparsable item)
func AsFloatSlice(v string) []float64 {
	parts := strings.Split(v, ",")
	res := make([]float64, len(parts))
	for i, part := range parts {
		val, _ := strconv.ParseFloat(strings.TrimSpace(part), 64)
		res[i] = val
	}
	return res
}

// AsStringSlice parses the tag value as a comma-separated slice of strings
func AsStringSlice(v string) []string {
	if v == "" {
		return []string{}
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// NewEnv builds the expression environment for user performing action in room.
func NewEnv(action string, room *types.Room, user *types.User) Env {
	env := Env{
		Action:        action,
		AsInt:         AsInt,
		AsFloat:       AsFloat,
		AsStringSlice: AsStringSlice,
		AsIntSlice:    AsIntSlice,
		AsFloatSlice:  AsFloatSlice,
	}
	if room != nil {
		env.Room = Room{
			Id:       room.Id,
			Name:     room.Name,
			OwnerId:  room.OwnerId,
			IsPublic: room.IsPublic,
			MaxUsers: room.MaxUsers,
			Tags:     room.Tags,
		}
		if env.Room.Tags == nil {
			env.Room.Tags = map[string]string{}
		}
	}
	if user != nil {
		env.User = User{Id: user.Id, Nick: user.Nick}
	}
	return env
}

// Compile compiles a boolean expression against Env.
func Compile(expression string) (*vm.Program, error) {
	return expr.Compile(expression, expr.Env(Env{}), expr.AsBool())
}

// Run evaluates a program compiled by Compile.
func Run(prog *vm.Program, env Env) (bool, error) {
	res, err := expr.Run(prog, env)
	if err != nil {
		return false, err
	}
	bRes, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, not bool", res)
	}
	return bRes, nil
}
