package breakdown

type Status string

const (
	// not enough information yet (no latest record known)
	StatusNone Status = "none"
	// pinned by the user, version comparison does not apply
	StatusLocked Status = "locked"
	// a newer record exists for the item's identity
	StatusOutOfDate Status = "out_of_date"
	StatusUpToDate  Status = "up_to_date"
)

func (self Status) String() string {
	return string(self)
}

// ItemStatus is pure. Locked wins over everything, an unknown latest record
// means the status cannot be computed yet.
func ItemStatus(item *FileItem) Status {
	if item.Locked {
		return StatusLocked
	}
	if item.LatestRecord == nil {
		return StatusNone
	}
	version := int64(0)
	if item.Record != nil {
		version, _ = item.Record.Version()
	}
	latestVersion, _ := item.LatestRecord.Version()
	if version < latestVersion {
		return StatusOutOfDate
	}
	return StatusUpToDate
}

// GroupStatus is pure. One out of date child outranks any number of locked or
// up to date siblings. Locked only when every child is locked.
// Groups with zero children do not exist, so an empty input is a programming
// error.
func GroupStatus(statuses []Status) Status {
	if len(statuses) == 0 {
		panic("Group status is undefined for zero children.")
	}
	allLocked := true
	for _, status := range statuses {
		if status == StatusOutOfDate {
			return StatusOutOfDate
		}
		if status != StatusLocked {
			allLocked = false
		}
	}
	if allLocked {
		return StatusLocked
	}
	return StatusUpToDate
}
