package batch

import (
	"fmt"
	"strings"

	"github.com/mextic/rechargeengine/internal/recharge/domain"
)

// formatMasterNote renders the recargas.notes summary string bit-exact to
// the operator-facing format the original ledger used. VOZ batches get a
// short fixed-shape note; GPS/ELIOT batches embed the recovered/savings/
// reporting-on-time counters
func formatMasterNote(st domain.ServiceType, items []domain.AuxiliaryQueueItem, note domain.QueueItemNote) string {
	var b strings.Builder
	if note.IsRecovery {
		b.WriteString("< RECUPERACIÓN > ")
	}

	if st == domain.ServiceVOZ {
		fmt.Fprintf(&b, "Recarga Automática VOZ - %d paquetes procesados", note.TotalRecords)
		return b.String()
	}

	fmt.Fprintf(&b, "[ %03d / %03d ] ", note.CurrentIndex, note.TotalToRecharge)

	if len(items) == 1 {
		rec := items[0].Record
		fmt.Fprintf(&b, "%s [%s] - ", rec.Label, rec.Company)
	}

	fmt.Fprintf(&b, "Recarga Automática **** %03d Pendientes al Finalizar el Día **** [ %d Reportando en Tiempo y Forma ] (%d procesados de %d total)",
		note.Savings, note.ReportingOnTime, note.CurrentIndex, note.TotalRecords)

	return b.String()
}

// formatDetailText renders the detalle_recargas.detalle text for one
// successfully recharged item
func formatDetailText(item domain.AuxiliaryQueueItem, st domain.ServiceType) string {
	r := item.WebserviceResponse
	var b strings.Builder

	fmt.Fprintf(&b, "[ Saldo Final: %s ] Folio: %s, Cantidad: $%s.00, Teléfono: %s, Carrier: %s, Fecha: %s, TransID: %s, Timeout: %d, IP: %s",
		r.FinalBalanceStr, r.Folio, item.Amount.StringFixed(0), item.Sim, r.Carrier, r.DateStr, r.TransID, r.TimeoutMs, r.IP)

	if st == domain.ServiceVOZ {
		fmt.Fprintf(&b, ", Paquete: %s (%s), Días: %d, Provider: %s",
			item.PackageCode, item.PackagePSL, item.DaysValidity, item.Provider)
	}

	if r.Note != "" {
		fmt.Fprintf(&b, ", %s", r.Note)
	}

	return b.String()
}
