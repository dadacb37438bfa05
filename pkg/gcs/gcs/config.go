package gcs

import (
	"strconv"

	"github.com/groupcomm/gcs-core/pkg/gcs/gcserrors"
)

// Params holds the runtime-tunable knobs spec §6 names, with the defaults
// gcs_conf.cpp ships (fc_base_limit=16, fc_resume_factor=0.5, sync_donor
// off, max_packet_size=64KB, recv-queue soft/hard limits, max_throttle
// 0.25, vote_policy 0 meaning "off").
type Params struct {
	FCBaseLimit    int
	FCResumeFactor float64
	FCDebug        bool
	SyncDonor      bool
	MaxPacketSize  int
	RecvQHardLimit int64
	RecvQSoftLimit int64
	MaxThrottle    float64
	VotePolicy     int
}

// DefaultParams returns the built-in defaults, suitable as a starting
// point for Config.Params.
func DefaultParams() Params {
	return Params{
		FCBaseLimit:    16,
		FCResumeFactor: 0.5,
		MaxPacketSize:  64 * 1024,
		RecvQHardLimit: 16 * 1024 * 1024,
		RecvQSoftLimit: 8 * 1024 * 1024,
		MaxThrottle:    0.25,
		VotePolicy:     0,
	}
}

// paramSet applies one recognized runtime key. Unrecognized keys return
// gcserrors.ErrNotFound; they are not passed on to the membership engine
// or the transport.
func (c *Controller) paramSet(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch key {
	case "fc_base_limit":
		n, err := strconv.Atoi(value)
		if err != nil {
			return gcserrors.Wrap(err, "fc_base_limit")
		}
		c.params.FCBaseLimit = n
		c.fc.BaseLimit = n
		c.fc.Recompute(len(c.core.Group().Nodes))
	case "fc_resume_factor":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return gcserrors.Wrap(err, "fc_resume_factor")
		}
		c.params.FCResumeFactor = f
		c.fc.ResumeFactor = f
		c.fc.Recompute(len(c.core.Group().Nodes))
	case "fc_debug":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return gcserrors.Wrap(err, "fc_debug")
		}
		c.params.FCDebug = b
	case "sync_donor":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return gcserrors.Wrap(err, "sync_donor")
		}
		c.params.SyncDonor = b
	case "max_packet_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return gcserrors.Wrap(err, "max_packet_size")
		}
		c.params.MaxPacketSize = n
		c.core.SetPacketSize(n)
	case "recv_q_hard_limit":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return gcserrors.Wrap(err, "recv_q_hard_limit")
		}
		c.params.RecvQHardLimit = n
		c.throttle.HardLimit = n
	case "recv_q_soft_limit":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return gcserrors.Wrap(err, "recv_q_soft_limit")
		}
		c.params.RecvQSoftLimit = n
		c.throttle.SoftLimit = n
	case "max_throttle":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return gcserrors.Wrap(err, "max_throttle")
		}
		if f < 0 || f >= 1.0 {
			return gcserrors.ErrProtocol
		}
		c.params.MaxThrottle = f
		c.throttle.MaxThrottle = f
	case "vote_policy":
		n, err := strconv.Atoi(value)
		if err != nil {
			return gcserrors.Wrap(err, "vote_policy")
		}
		c.params.VotePolicy = n
		c.core.Group().VotePolicy = n
	default:
		return gcserrors.ErrNotFound
	}
	return nil
}

// paramGet reads back one recognized runtime key.
func (c *Controller) paramGet(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch key {
	case "fc_base_limit":
		return strconv.Itoa(c.params.FCBaseLimit), true
	case "fc_resume_factor":
		return strconv.FormatFloat(c.params.FCResumeFactor, 'f', -1, 64), true
	case "fc_debug":
		return strconv.FormatBool(c.params.FCDebug), true
	case "sync_donor":
		return strconv.FormatBool(c.params.SyncDonor), true
	case "max_packet_size":
		return strconv.Itoa(c.params.MaxPacketSize), true
	case "recv_q_hard_limit":
		return strconv.FormatInt(c.params.RecvQHardLimit, 10), true
	case "recv_q_soft_limit":
		return strconv.FormatInt(c.params.RecvQSoftLimit, 10), true
	case "max_throttle":
		return strconv.FormatFloat(c.params.MaxThrottle, 'f', -1, 64), true
	case "vote_policy":
		return strconv.Itoa(c.params.VotePolicy), true
	default:
		return "", false
	}
}
