package infra

// pdf.go: closing (arqueo) report for one session using go-pdf/fpdf.
// 80mm wide thermal-receipt layout with:
//   - Register name and session identity
//   - Opening / closing timestamps and actors
//   - Starting float, income, expense, computed and counted balances
//   - Variance with classification
//   - Per payment-method breakdown and the movement list
//
// The document is streamed to w; nothing touches the filesystem.

import (
	"fmt"
	"io"
	"sort"

	"turnopos/internal/dto"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

// GenerateArqueoPDF renders the closing report of sesion into w.
func GenerateArqueoPDF(w io.Writer, caja dto.CajaResponse, sesion dto.SesionResponse, movs []dto.MovimientoResponse) error {
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: 80, Ht: 200},
	})
	pdf.SetMargins(4, 4, 4)
	pdf.SetAutoPageBreak(true, 6)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 8
	labelW := contentW * 0.6
	valueW := contentW - labelW

	line := func() {
		pdf.Ln(1)
		pdf.Line(4, pdf.GetY(), pageW-4, pdf.GetY())
		pdf.Ln(2)
	}
	row := func(label, value string) {
		pdf.CellFormat(labelW, 4.5, tr(label), "", 0, "L", false, 0, "")
		pdf.CellFormat(valueW, 4.5, tr(value), "", 1, "R", false, 0, "")
	}
	money := func(d decimal.Decimal) string { return "$" + d.StringFixed(2) }

	// ── Header ───────────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(contentW, 6, tr("Arqueo de caja"), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 8)
	pdf.CellFormat(contentW, 4.5, tr(caja.Nombre), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 6)
	pdf.CellFormat(contentW, 3.5, "Sesion "+sesion.ID, "", 1, "C", false, 0, "")
	line()

	// ── Session info ─────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "", 7)
	row("Apertura", sesion.OpenedAt)
	if sesion.ClosedAt != nil {
		row("Cierre", *sesion.ClosedAt)
	} else {
		row("Cierre", "(sesión abierta)")
	}
	row("Estado", sesion.Estado)
	line()

	// ── Balances ─────────────────────────────────────────────────────────────
	row("Monto inicial", money(sesion.MontoInicial))
	row("Ingresos", money(sesion.Totales.Ingresos))
	row("Egresos", "-"+money(sesion.Totales.Egresos))
	pdf.SetFont("Helvetica", "B", 8)
	calculado := sesion.MontoInicial.Add(sesion.Totales.Neto)
	if sesion.MontoCalculado != nil {
		calculado = *sesion.MontoCalculado
	}
	row("Saldo calculado", money(calculado))
	pdf.SetFont("Helvetica", "", 7)
	if sesion.MontoDeclarado != nil {
		row("Saldo contado", money(*sesion.MontoDeclarado))
	}
	if sesion.Desvio != nil {
		pdf.SetFont("Helvetica", "B", 8)
		row("Desvío", money(*sesion.Desvio))
		pdf.SetFont("Helvetica", "", 7)
	}
	if sesion.DesvioPct != nil && sesion.Clasificacion != nil {
		row("Desvío %", fmt.Sprintf("%s%% (%s)", sesion.DesvioPct.StringFixed(2), *sesion.Clasificacion))
	}
	line()

	// ── Payment methods ──────────────────────────────────────────────────────
	if len(sesion.Totales.PorMetodo) > 0 {
		pdf.SetFont("Helvetica", "B", 7)
		pdf.CellFormat(contentW, 4.5, tr("Por método de pago"), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 7)
		metodos := make([]string, 0, len(sesion.Totales.PorMetodo))
		for m := range sesion.Totales.PorMetodo {
			metodos = append(metodos, m)
		}
		sort.Strings(metodos)
		for _, m := range metodos {
			row(m, money(sesion.Totales.PorMetodo[m]))
		}
		line()
	}

	// ── Movements ────────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "B", 7)
	pdf.CellFormat(contentW, 4.5, fmt.Sprintf("Movimientos (%d)", len(movs)), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 6)
	for _, m := range movs {
		motivo := m.Motivo
		if r := []rune(motivo); len(r) > 28 {
			motivo = string(r[:27]) + "..."
		}
		signo := ""
		if m.Tipo == "expense" {
			signo = "-"
		}
		row(motivo, signo+money(m.Monto))
	}

	// ── Footer ───────────────────────────────────────────────────────────────
	if sesion.Observaciones != nil {
		line()
		pdf.SetFont("Helvetica", "I", 7)
		pdf.MultiCell(contentW, 4, tr("Observaciones: "+*sesion.Observaciones), "", "L", false)
	}
	if sesion.DivergenciaCache && sesion.SaldoCache != nil {
		pdf.Ln(1)
		pdf.SetFont("Helvetica", "B", 6)
		pdf.MultiCell(contentW, 3.5, tr("Atención: el saldo en caché ("+money(*sesion.SaldoCache)+") difería del ledger al cerrar."), "", "L", false)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("pdf: write: %w", err)
	}
	return nil
}
