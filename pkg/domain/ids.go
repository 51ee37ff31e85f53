package domain

import "github.com/google/uuid"

func NewVersionID() string  { return "tv_" + uuid.NewString() }
func NewEventID() string    { return "evt_" + uuid.NewString() }
func NewSnapshotID() string { return "snap_" + uuid.NewString() }
