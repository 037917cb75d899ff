package draft

import (
	"regexp"
	"strings"

	"retailpos/internal/apierror"
	"retailpos/internal/model"
)

var (
	// Old national format AAA9999 and Mercosul AAA9A99.
	plateRe = regexp.MustCompile(`^[A-Z]{3}[0-9]([0-9]|[A-Z])[0-9]{2}$`)
	stateRe = regexp.MustCompile(`^[A-Z]{2}$`)
)

// ValidateDelivery checks the delivery form. License plate and state are
// normalised to upper case without separators.
func ValidateDelivery(d *model.Delivery) error {
	if strings.TrimSpace(d.Address) == "" {
		return apierror.Validation("address", "The delivery address is required")
	}
	switch d.FreightType {
	case model.FreightCIFUnknown, model.FreightCIFInvoice, model.FreightFOBInstallments:
	case model.FreightFOBPayment:
		if d.TransporterID == nil {
			return apierror.Validation("transporter", "FOB freight paid at checkout needs a transporter")
		}
	default:
		return apierror.Validationf("freight_type", "Unknown freight type %q", d.FreightType)
	}
	if d.Price.IsNegative() {
		return apierror.Validation("price", "The delivery price cannot be negative")
	}
	if d.VolumesQuantity < 0 {
		return apierror.Validation("volumes_quantity", "The number of volumes cannot be negative")
	}
	if d.NetWeight.IsNegative() || d.GrossWeight.IsNegative() {
		return apierror.Validation("gross_weight", "Weights cannot be negative")
	}
	if d.NetWeight.GreaterThan(d.GrossWeight) {
		return apierror.Validation("gross_weight", "The gross weight must be greater or equal than the net weight")
	}
	if d.VehicleLicensePlate != nil && *d.VehicleLicensePlate != "" {
		plate := strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(*d.VehicleLicensePlate))
		if !plateRe.MatchString(plate) {
			return apierror.Validation("vehicle_license_plate", "Invalid license plate format")
		}
		d.VehicleLicensePlate = &plate
	}
	if d.VehicleState != nil && *d.VehicleState != "" {
		st := strings.ToUpper(strings.TrimSpace(*d.VehicleState))
		if !stateRe.MatchString(st) {
			return apierror.Validation("vehicle_state", "Invalid vehicle state")
		}
		d.VehicleState = &st
	}
	return nil
}
