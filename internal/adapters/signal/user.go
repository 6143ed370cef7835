package signal

func (ctl *SignalWSController) handleWhoAmI(cl *client) {
	user := ctl.Orch.Registry.GetOrCreateUser(cl.sid)
	resp := obj{"user": user}
	if roomID, sess, ok := ctl.Orch.Registry.RoomOf(cl.sid); ok {
		resp["room"] = roomID
		resp["mic"] = sess.MicState().String()
	}
	_ = cl.emit("whoami", resp)
}
