package rpcbench

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownFramework is returned for a framework name with no backend.
var ErrUnknownFramework = errors.New("unknown framework")

// Framework names accepted by NewFactory.
const (
	FrameworkInProcess       = "inprocess"
	FrameworkFramedJSON      = "framed-json"
	FrameworkFramedGoccy     = "framed-goccy"
	FrameworkFramedSegmentio = "framed-segmentio"
	FrameworkFramedMsgpack   = "framed-msgpack"
	FrameworkFramedProtobuf  = "framed-protobuf"
	FrameworkGRPC            = "grpc"
)

var framedCodecs = map[string]CodecType{
	FrameworkFramedJSON:      CodecJSON,
	FrameworkFramedGoccy:     CodecJSONGoccy,
	FrameworkFramedSegmentio: CodecJSONSegmentio,
	FrameworkFramedMsgpack:   CodecMessagePack,
	FrameworkFramedProtobuf:  CodecProtobuf,
}

// FrameworkNames lists every framework in the order "all" runs them.
func FrameworkNames() []string {
	return []string{
		FrameworkInProcess,
		FrameworkFramedJSON,
		FrameworkFramedGoccy,
		FrameworkFramedSegmentio,
		FrameworkFramedMsgpack,
		FrameworkFramedProtobuf,
		FrameworkGRPC,
	}
}

// FactoryDeps are the shared collaborators backends are built with.
type FactoryDeps struct {
	Transport TransportConfig
	Registry  *Registry
	Logger    *Logger
}

// NewFactory creates the backend registered under name.
func NewFactory(name string, deps FactoryDeps) (Factory, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	switch name {
	case FrameworkInProcess:
		return NewInProcessFactory(deps.Registry), nil
	case FrameworkGRPC:
		return NewGRPCFactory(deps.Transport, deps.Logger), nil
	}

	if ct, ok := framedCodecs[name]; ok {
		codec, err := NewCodec(ct)
		if err != nil {
			return nil, err
		}
		return NewFramedFactory(codec, deps.Transport, deps.Logger), nil
	}
	return nil, fmt.Errorf("%w: %q (known: %s, all)", ErrUnknownFramework, name, strings.Join(FrameworkNames(), ", "))
}

// NewFactories resolves a selection: a single name, a comma-separated
// list, or "all".
func NewFactories(selection string, deps FactoryDeps) ([]Factory, error) {
	names := FrameworkNames()
	if sel := strings.TrimSpace(selection); sel != "" && !strings.EqualFold(sel, "all") {
		names = strings.Split(sel, ",")
	}

	factories := make([]Factory, 0, len(names))
	for _, name := range names {
		f, err := NewFactory(name, deps)
		if err != nil {
			return nil, err
		}
		factories = append(factories, f)
	}
	return factories, nil
}
