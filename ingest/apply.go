package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/madpsy/aisguard/broadcast"
	"github.com/madpsy/aisguard/decoders"
	"github.com/madpsy/aisguard/spoof"
	"github.com/madpsy/aisguard/store"
	"github.com/madpsy/aisguard/vessel"
)

func (r *Router) handle(ctx context.Context, j job) {
	var err error
	switch j.kind {
	case jobMessage:
		err = r.applyMessage(ctx, j)
	case jobText:
		err = r.applyText(ctx, j)
	case jobDetach:
		// A message handled on this shard since the eviction may have
		// admitted the target again.
		if j.src.hasTarget(j.mmsi) {
			break
		}
		err = r.store.DetachSource(ctx, j.mmsi, j.sourceID)
		if errors.Is(err, store.ErrNotFound) {
			err = nil
		}
	}
	if err != nil {
		r.log.Error("apply failed", "source", j.sourceID, "mmsi", j.mmsi, "err", err)
	}
	if j.batch != nil {
		j.batch.done(err == nil)
	}
}

func (r *Router) storeMessage(ctx context.Context, j job, mmsi uint32, msgType uint8, ts time.Time) error {
	evicted, err := r.store.AddMessage(ctx, &vessel.StoredMessage{
		MMSI:        mmsi,
		SourceID:    j.sourceID,
		MessageType: msgType,
		Timestamp:   ts,
		Raw:         j.frame.RawText(),
		IsVDO:       j.frame.IsVDO,
	}, j.src.getPolicy().MessageLimit)
	if err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	if evicted > 0 {
		r.metrics.MessageEvictions.WithLabelValues(j.sourceID).Add(float64(evicted))
	}
	j.src.c.messages.Add(1)
	j.src.c.touch(j.at)
	return nil
}

func (r *Router) applyText(ctx context.Context, j job) error {
	t := j.text
	if err := r.storeMessage(ctx, j, t.MMSI, t.Type, j.at); err != nil {
		return err
	}
	r.metrics.Messages.WithLabelValues(strconv.Itoa(int(t.Type))).Inc()
	return r.store.AddTextMessage(ctx, &vessel.TextMessage{
		MMSI:        t.MMSI,
		DestMMSI:    t.DestMMSI,
		MessageType: t.Type,
		Text:        t.Text,
		SourceID:    j.sourceID,
		Timestamp:   j.at,
	})
}

// applyMessage runs one decoded message through admission, identity merge,
// validation and spoof checking, then persists and publishes the result.
// It is only ever called on the shard owning the message's MMSI.
func (r *Router) applyMessage(ctx context.Context, j job) error {
	msg := j.msg
	mmsi := msg.SourceMMSI()
	ts := j.at
	if !j.logged {
		ts = decoders.MessageTime(msg, j.at)
	}
	r.metrics.Messages.WithLabelValues(strconv.Itoa(int(msg.MessageType()))).Inc()

	if err := r.storeMessage(ctx, j, mmsi, msg.MessageType(), ts); err != nil {
		return err
	}

	v, err := r.store.GetVessel(ctx, mmsi)
	isNew := errors.Is(err, store.ErrNotFound)
	switch {
	case isNew:
		v = vessel.New(mmsi, ts)
	case err != nil:
		return fmt.Errorf("load vessel: %w", err)
	}
	if ts.After(v.LastSeen) {
		v.LastSeen = ts
	}
	if ts.Before(v.FirstSeen) {
		v.FirstSeen = ts
	}

	changed := classify(v, decoders.Classify(msg))
	r.detach(ctx, j.src, j.src.admit(mmsi, v.IsNonVessel()))
	v.AddSource(j.sourceID)

	if id, ok := decoders.IdentityOf(msg); ok && mergeIdentity(v, id) {
		changed = true
	}

	var pos *vessel.Position
	if fix, ok := decoders.PositionOf(msg); ok {
		pos, err = r.applyPosition(ctx, j, v, fix, ts)
		if err != nil {
			return err
		}
	}

	if err := r.store.PutVessel(ctx, v); err != nil {
		return fmt.Errorf("store vessel: %w", err)
	}

	if r.pub != nil {
		if changed || isNew {
			r.pub.Publish(broadcast.VesselInfoEvent(v))
		}
		if pos != nil {
			if e, ok := broadcast.PositionEvent(v, pos); ok {
				r.pub.Publish(e)
			}
		}
	}
	return nil
}

func (r *Router) applyPosition(ctx context.Context, j job, v *vessel.Vessel, fix decoders.Fix, ts time.Time) (*vessel.Position, error) {
	p := &vessel.Position{
		MMSI:        v.MMSI,
		SourceID:    j.sourceID,
		MessageType: j.msg.MessageType(),
		Timestamp:   ts,
		OriginalLat: fix.Lat,
		OriginalLon: fix.Lon,
		IsVDO:       j.frame.IsVDO,
		Speed:       fix.Speed,
		Course:      fix.Course,
		Heading:     fix.Heading,
		NavStatus:   fix.NavStatus,
	}
	backfilled, err := r.validator.Apply(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("validate position: %w", err)
	}
	if backfilled > 0 {
		r.metrics.Backfilled.Add(float64(backfilled))
		r.log.Debug("backfilled hidden positions", "mmsi", v.MMSI, "count", backfilled)
	}

	if p.ID, err = r.store.AddPosition(ctx, p); err != nil {
		return nil, fmt.Errorf("store position: %w", err)
	}
	v.PositionCount++
	if !p.HasDisplay() {
		return p, nil
	}
	v.LastPosition = p.Clone()

	refs, err := r.store.VdoReferences(ctx, v.SourceIDs...)
	if err != nil {
		return nil, fmt.Errorf("load vdo references: %w", err)
	}
	res := r.detector.Check(spoof.Target{
		MMSI:      v.MMSI,
		Lat:       *p.DisplayLat,
		Lon:       *p.DisplayLon,
		SourceIDs: v.SourceIDs,
	}, refs)
	if res.Spoofed {
		r.metrics.SpoofFlags.Inc()
		if !v.Spoofed {
			r.log.Info("possible spoofed position", "mmsi", v.MMSI, "lat", *p.DisplayLat, "lon", *p.DisplayLon)
		}
	}
	v.Spoofed = res.Spoofed
	return p, nil
}

// classify applies what the message type proves about the station. A type
// 4 report makes the sender a base station even when its MMSI says otherwise.
func classify(v *vessel.Vessel, c decoders.Classification) bool {
	before := [3]bool{v.IsBaseStation, v.IsAtoN, v.IsSAR}
	switch {
	case c.BaseStation:
		v.IsBaseStation, v.IsAtoN = true, false
	case c.AtoN:
		v.IsAtoN = true
	case c.SAR:
		v.IsSAR = true
	}
	return before != [3]bool{v.IsBaseStation, v.IsAtoN, v.IsSAR}
}

// mergeIdentity copies the fields present in id onto v and reports whether
// anything changed. Absent fields never clear known values.
func mergeIdentity(v *vessel.Vessel, id decoders.Identity) bool {
	changed := false
	setString := func(dst *string, src *string) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = true
		}
	}
	setString(&v.Name, id.Name)
	setString(&v.Callsign, id.Callsign)
	setString(&v.Destination, id.Destination)
	setString(&v.ETA, id.ETA)

	if id.IMO != nil && v.IMO != *id.IMO {
		v.IMO = *id.IMO
		changed = true
	}
	if id.ShipType != nil && (v.ShipType == nil || *v.ShipType != *id.ShipType) {
		t := *id.ShipType
		v.ShipType = &t
		v.ShipTypeText = vessel.ShipTypeText(t)
		changed = true
	}
	if id.Dimensions != nil && (v.Dimensions == nil || *v.Dimensions != *id.Dimensions) {
		d := *id.Dimensions
		v.Dimensions = &d
		changed = true
	}
	if id.Draught != nil && (v.Draught == nil || *v.Draught != *id.Draught) {
		d := *id.Draught
		v.Draught = &d
		changed = true
	}
	if id.AtoNType != nil && (v.AtoNType == nil || *v.AtoNType != *id.AtoNType) {
		t := *id.AtoNType
		v.AtoNType = &t
		changed = true
	}
	return changed
}
