// Package config loads the transport layer's and UDS core's tunable
// parameters from an INI file, following the teacher's pkg/od EDS-parsing
// pattern (gopkg.in/ini.v1, section/key lookups with typed defaults) —
// adapted here from object-dictionary entries to DoCAN/UDS timing and
// sizing parameters (spec.md §6, §7).
package config

import (
	"fmt"

	"gopkg.in/ini.v1"

	"github.com/vitalwire/docan/pkg/receiver"
	"github.com/vitalwire/docan/pkg/transmitter"
	"github.com/vitalwire/docan/pkg/uds"
)

// Parameters is the full set of deployment-tunable values a transport
// layer instance and its UDS core need (spec.md §6.3, §7.2).
type Parameters struct {
	// ReceiverPoolSize / TransmitterPoolSize size the C6/C7 fixed pools.
	ReceiverPoolSize    int
	TransmitterPoolSize int

	MaxAllocateRetryCount    uint8
	AllocateRetryTimeoutUs   uint32
	RxTimeoutUs              uint32
	MaxBlockSize             uint8
	EncodedMinSeparationTime uint8
	FlowControlTimeoutUs     uint32

	// UDS timing (spec.md §7): response-pending keep-alive cadence and
	// tester-present session-keepalive window.
	InitialPendingTimeoutMs uint32
	DefaultPendingTimeoutMs uint32
	GlobalPendingTimeoutMs  uint32
	TesterPresentTimeoutMs  uint32
}

// Defaults returns the values this module ships with absent a config
// file — conservative ISO 15765-2/14229 defaults, not tuned to any
// particular vehicle network.
func Defaults() Parameters {
	return Parameters{
		ReceiverPoolSize:         4,
		TransmitterPoolSize:      4,
		MaxAllocateRetryCount:    2,
		AllocateRetryTimeoutUs:   10_000,
		RxTimeoutUs:              1_000_000,
		MaxBlockSize:             0, // 0 = no block-size limit, send the whole message after one CTS
		EncodedMinSeparationTime: 0,
		FlowControlTimeoutUs:     1_000_000,
		InitialPendingTimeoutMs:  40,
		DefaultPendingTimeoutMs:  4_500,
		GlobalPendingTimeoutMs:   190_000,
		TesterPresentTimeoutMs:   5_000,
	}
}

// Load reads parameters from an INI file (path, []byte, or io.Reader — any
// source gopkg.in/ini.v1's Load accepts), starting from Defaults and
// overriding only the keys present under the [docan] and [uds] sections.
func Load(source any) (Parameters, error) {
	params := Defaults()

	file, err := ini.Load(source)
	if err != nil {
		return Parameters{}, fmt.Errorf("config: %w", err)
	}

	if file.HasSection("docan") {
		s := file.Section("docan")
		params.ReceiverPoolSize = s.Key("receiver_pool_size").MustInt(params.ReceiverPoolSize)
		params.TransmitterPoolSize = s.Key("transmitter_pool_size").MustInt(params.TransmitterPoolSize)
		params.MaxAllocateRetryCount = uint8(s.Key("max_allocate_retry_count").MustUint(uint(params.MaxAllocateRetryCount)))
		params.AllocateRetryTimeoutUs = uint32(s.Key("allocate_retry_timeout_us").MustUint(uint(params.AllocateRetryTimeoutUs)))
		params.RxTimeoutUs = uint32(s.Key("rx_timeout_us").MustUint(uint(params.RxTimeoutUs)))
		params.MaxBlockSize = uint8(s.Key("max_block_size").MustUint(uint(params.MaxBlockSize)))
		params.EncodedMinSeparationTime = uint8(s.Key("encoded_min_separation_time").MustUint(uint(params.EncodedMinSeparationTime)))
		params.FlowControlTimeoutUs = uint32(s.Key("flow_control_timeout_us").MustUint(uint(params.FlowControlTimeoutUs)))
	}

	if file.HasSection("uds") {
		s := file.Section("uds")
		params.InitialPendingTimeoutMs = uint32(s.Key("initial_pending_timeout_ms").MustUint(uint(params.InitialPendingTimeoutMs)))
		params.DefaultPendingTimeoutMs = uint32(s.Key("default_pending_timeout_ms").MustUint(uint(params.DefaultPendingTimeoutMs)))
		params.GlobalPendingTimeoutMs = uint32(s.Key("global_pending_timeout_ms").MustUint(uint(params.GlobalPendingTimeoutMs)))
		params.TesterPresentTimeoutMs = uint32(s.Key("tester_present_timeout_ms").MustUint(uint(params.TesterPresentTimeoutMs)))
	}

	return params, nil
}

// ReceiverParameters projects the subset pkg/receiver.Multiplexer needs.
func (p Parameters) ReceiverParameters() receiver.Parameters {
	return receiver.Parameters{
		MaxAllocateRetryCount:    p.MaxAllocateRetryCount,
		MaxBlockSize:             p.MaxBlockSize,
		EncodedMinSeparationTime: p.EncodedMinSeparationTime,
		AllocateRetryTimeoutUs:   p.AllocateRetryTimeoutUs,
		RxTimeoutUs:              p.RxTimeoutUs,
	}
}

// TransmitterParameters projects the subset pkg/transmitter.Multiplexer needs.
func (p Parameters) TransmitterParameters() transmitter.Parameters {
	return transmitter.Parameters{
		FlowControlTimeoutUs: p.FlowControlTimeoutUs,
	}
}

// UDSParameters projects the subset pkg/uds.Dispatcher needs.
func (p Parameters) UDSParameters() uds.PendingParameters {
	return uds.PendingParameters{
		InitialPendingTimeoutMs: p.InitialPendingTimeoutMs,
		DefaultPendingTimeoutMs: p.DefaultPendingTimeoutMs,
		GlobalPendingTimeoutMs:  p.GlobalPendingTimeoutMs,
		TesterPresentTimeoutMs:  p.TesterPresentTimeoutMs,
	}
}
