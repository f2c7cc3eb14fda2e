package ubx

// Identity names the message for logs, counters and dispatch.
func (NavPVT) Identity() string      { return "NAV-PVT" }
func (NavHPPOSLLH) Identity() string { return "NAV-HPPOSLLH" }
func (NavStatus) Identity() string   { return "NAV-STATUS" }
func (NavSat) Identity() string      { return "NAV-SAT" }
func (NavCov) Identity() string      { return "NAV-COV" }
func (HNRPVT) Identity() string      { return "HNR-PVT" }
func (ESFIns) Identity() string      { return "ESF-INS" }
func (ESFStatus) Identity() string   { return "ESF-STATUS" }
func (MonVer) Identity() string      { return "MON-VER" }

func (a Ack) Identity() string {
	if a.OK {
		return "ACK-ACK"
	}
	return "ACK-NAK"
}
