// Package campaign holds the broadcast campaign model, the Repository that
// serializes and persists changes per campaign code, and the Controller that
// exposes lifecycle operations to front ends.
package campaign
