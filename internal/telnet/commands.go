package telnet

// Autopilot and simulation property paths used by the mode helpers. These
// match the JSBSim autopilot tree the bridge's protocol descriptions target.
const (
	propFreezeMaster     = "/sim/freeze/master"
	propFreezeClock      = "/sim/freeze/clock"
	propSimReset         = "/fdm/jsbsim/simulation/reset"
	propTECS             = "/fdm/jsbsim/ap/tecs"
	propHeadingHold      = "/fdm/jsbsim/ap/heading_hold"
	propAttitudeHold     = "/fdm/jsbsim/ap/attitude_hold"
	propAltitudeHold     = "/fdm/jsbsim/ap/altitude_hold"
	propGammaHold        = "/fdm/jsbsim/ap/gamma_hold"
	propVelocityHold     = "/fdm/jsbsim/ap/velocity_hold"
	propAccelerationHold = "/fdm/jsbsim/ap/acceleration_hold"
	propViewNext         = "/command/view/next"
)

// Pause freezes the simulation and its clock.
func (c *Client) Pause() error {
	if err := c.Set(propFreezeMaster, 1); err != nil {
		return err
	}
	return c.Set(propFreezeClock, 1)
}

// Resume unfreezes the simulation and its clock.
func (c *Client) Resume() error {
	if err := c.Set(propFreezeMaster, 0); err != nil {
		return err
	}
	return c.Set(propFreezeClock, 0)
}

// Reset triggers a JSBSim simulation reset.
func (c *Client) Reset() error {
	return c.Set(propSimReset, 1)
}

// ToggleTECS switches the total energy control system on or off.
func (c *Client) ToggleTECS(on bool) error {
	mode := 0
	if on {
		mode = 1
	}
	return c.Set(propTECS, mode)
}

// ControlHeading engages heading hold and disengages attitude hold.
func (c *Client) ControlHeading() error {
	if err := c.Set(propHeadingHold, 1); err != nil {
		return err
	}
	return c.Set(propAttitudeHold, 0)
}

// WingsLevel engages attitude hold and disengages heading hold.
func (c *Client) WingsLevel() error {
	if err := c.Set(propHeadingHold, 0); err != nil {
		return err
	}
	return c.Set(propAttitudeHold, 1)
}

// ControlAltitude engages altitude hold and disengages flight-path hold.
func (c *Client) ControlAltitude() error {
	if err := c.Set(propAltitudeHold, 1); err != nil {
		return err
	}
	return c.Set(propGammaHold, 0)
}

// ControlFlightPath engages flight-path (gamma) hold and disengages
// altitude hold.
func (c *Client) ControlFlightPath() error {
	if err := c.Set(propAltitudeHold, 0); err != nil {
		return err
	}
	return c.Set(propGammaHold, 1)
}

// ControlVelocity engages velocity hold and disengages acceleration hold.
func (c *Client) ControlVelocity() error {
	if err := c.Set(propVelocityHold, 1); err != nil {
		return err
	}
	return c.Set(propAccelerationHold, 0)
}

// ControlAcceleration engages acceleration hold and disengages velocity hold.
func (c *Client) ControlAcceleration() error {
	if err := c.Set(propVelocityHold, 0); err != nil {
		return err
	}
	return c.Set(propAccelerationHold, 1)
}

// LandingMode configures the holds for landing on the ground vehicle:
// acceleration, flight path, and heading control.
func (c *Client) LandingMode() error {
	if err := c.ControlAcceleration(); err != nil {
		return err
	}
	if err := c.ControlFlightPath(); err != nil {
		return err
	}
	return c.ControlHeading()
}

// AlignMode configures the holds for lateral alignment: velocity, altitude,
// and heading control.
func (c *Client) AlignMode() error {
	if err := c.ControlVelocity(); err != nil {
		return err
	}
	if err := c.ControlAltitude(); err != nil {
		return err
	}
	return c.ControlHeading()
}

// HoldMode keeps the current setpoints: velocity, altitude, and heading
// control.
func (c *Client) HoldMode() error {
	if err := c.ControlVelocity(); err != nil {
		return err
	}
	if err := c.ControlAltitude(); err != nil {
		return err
	}
	return c.ControlHeading()
}

// ViewNext switches the simulator to its next camera view.
func (c *Client) ViewNext() error {
	return c.Set(propViewNext, "true")
}
