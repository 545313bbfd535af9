// Benchmark tool for measuring BillGuard against labelled billing data.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -rows 2000
//   go run cmd/benchmark/main.go -csv /path/to/bills.csv
//
// This tool:
//   1. Generates (or reads) a labelled batch of billing records with injected anomalies
//   2. Rebuilds BillGuard's baselines from a clean synthetic history
//   3. Sends the batch to POST /detect in chunks
//   4. Compares the high-risk band with the injected labels
//   5. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Bill is a billing record in the BillGuard wire format.
type Bill struct {
	BillID         string          `json:"billId"`
	BranchID       string          `json:"branchId"`
	BillDate       time.Time       `json:"billDate"`
	OperatorID     string          `json:"operatorId"`
	BusinessType   string          `json:"businessType"`
	ChargedAmount  decimal.Decimal `json:"chargedAmount"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	NetAmount      decimal.Decimal `json:"netAmount"`
	OperationTime  time.Time       `json:"operationTime"`
}

// LabelledBill pairs a bill with its injected high-risk label.
type LabelledBill struct {
	Bill
	HighRisk bool
}

// DetectResponse is the part of the POST /detect response used here.
type DetectResponse struct {
	RunID  string             `json:"runId"`
	Scores map[string]float64 `json:"scores"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Labelled high risk, scored high risk
	FalsePositives int64 // Labelled normal, scored high risk
	TrueNegatives  int64 // Labelled normal, scored below the threshold
	FalseNegatives int64 // Labelled high risk, scored below the threshold (missed!)

	TotalProcessed int64
	TotalHighRisk  int64
	TotalNormal    int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

type businessProfile struct {
	name     string
	min, max float64
}

// Amount ranges of normal operations per business type.
var profiles = []businessProfile{
	{"activation", 100, 200},
	{"deactivation", 50, 100},
	{"plan_change", 100, 500},
	{"recharge", 10, 1000},
	{"data_package", 5, 200},
	{"roaming", 100, 800},
}

var (
	operatorIDs = []string{"OP001", "OP002", "OP003"}
	branchIDs   = []string{"BR001", "BR002", "BR003"}
)

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to a labelled billing CSV (optional; synthetic data when empty)")
	baseURL := flag.String("url", "http://localhost:8080", "BillGuard base URL")
	rows := flag.Int("rows", 1000, "Synthetic batch size")
	history := flag.Int("history", 3000, "Synthetic history size used for baselines")
	anomalyRate := flag.Float64("anomaly-rate", 0.2, "Share of anomalous records (amount or night time)")
	highRiskRate := flag.Float64("highrisk-rate", 0.1, "Share of labelled high-risk records")
	seed := flag.Uint64("seed", 42, "Random seed")
	chunk := flag.Int("chunk", 500, "Records per /detect request")
	workers := flag.Int("workers", 4, "Number of concurrent requests")
	threshold := flag.Float64("threshold", 0.7, "High-risk threshold")
	verbose := flag.Bool("verbose", false, "Print each misclassified record")
	flag.Parse()

	fmt.Println("BILLGUARD BENCHMARK - labelled billing anomalies")
	fmt.Printf("\nBillGuard URL: %s\n", *baseURL)
	fmt.Printf("Workers:       %d\n", *workers)
	fmt.Printf("Chunk:         %d\n", *chunk)
	fmt.Printf("Threshold:     %.2f\n", *threshold)
	fmt.Println()

	// Check BillGuard is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: BillGuard not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure BillGuard is running:")
		fmt.Println("  go run cmd/billguard/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ BillGuard is healthy")

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	historyStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	batchStart := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	// Build baselines
	fmt.Printf("\nBuilding baselines from %d synthetic records...\n", *history)
	clean := generate(rng, "H", *history, historyStart, 0, 0)
	hist := make([]Bill, len(clean))
	for i, b := range clean {
		hist[i] = b.Bill
	}
	if err := postJSON(&http.Client{Timeout: 60 * time.Second}, *baseURL+"/baseline", map[string]any{"records": hist}, nil); err != nil {
		fmt.Printf("ERROR: Failed to build baselines: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Baselines built")

	// Load batch
	var batch []LabelledBill
	if *csvPath != "" {
		fmt.Printf("\nReading labelled bills from %s...\n", *csvPath)
		var err error
		batch, err = readCSV(*csvPath)
		if err != nil {
			fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
			os.Exit(1)
		}
	} else {
		batch = generate(rng, "BILL", *rows, batchStart, *anomalyRate, *highRiskRate)
	}
	fmt.Printf("✓ Loaded %d records\n", len(batch))

	labelled := 0
	for _, b := range batch {
		if b.HighRisk {
			labelled++
		}
	}
	if len(batch) > 0 {
		fmt.Printf("  - High risk: %d (%.2f%%)\n", labelled, 100*float64(labelled)/float64(len(batch)))
		fmt.Printf("  - Normal:    %d (%.2f%%)\n", len(batch)-labelled, 100*float64(len(batch)-labelled)/float64(len(batch)))
	}

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(batch, *baseURL, *chunk, *workers, *threshold, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// generate produces n bills, fifteen per day from start, with the given
// shares of anomalous and labelled high-risk records.
func generate(rng *rand.Rand, prefix string, n int, start time.Time, anomalyRate, highRiskRate float64) []LabelledBill {
	out := make([]LabelledBill, 0, n)
	for i := 0; i < n; i++ {
		p := profiles[rng.IntN(len(profiles))]
		amount := p.min + rng.Float64()*(p.max-p.min)
		day := start.AddDate(0, 0, i/15)
		hour := 8 + rng.IntN(12)
		highRisk := false

		if rng.Float64() < anomalyRate {
			switch p.name {
			case "roaming":
				amount = 1500 + rng.Float64()*1500
			case "recharge":
				amount = 2000 + rng.Float64()*3000
			case "data_package":
				amount = 500 + rng.Float64()*500
			}
			hour = []int{0, 1, 2, 23}[rng.IntN(4)]
		}
		if rng.Float64() < highRiskRate {
			if p.name == "roaming" || p.name == "recharge" || p.name == "data_package" {
				amount = 3000 + rng.Float64()*5000
			}
			hour = []int{0, 1, 2, 3, 4, 23}[rng.IntN(6)]
			highRisk = true
		}

		charged := decimal.NewFromFloat(amount).Round(2)
		discount := charged.Mul(decimal.NewFromFloat(rng.Float64() * 0.2)).Round(2)
		ts := day.Add(time.Duration(hour)*time.Hour + time.Duration(rng.IntN(60))*time.Minute)

		out = append(out, LabelledBill{
			Bill: Bill{
				BillID:         fmt.Sprintf("%s%05d", prefix, i+1),
				BranchID:       branchIDs[rng.IntN(len(branchIDs))],
				BillDate:       day,
				OperatorID:     operatorIDs[rng.IntN(len(operatorIDs))],
				BusinessType:   p.name,
				ChargedAmount:  charged,
				DiscountAmount: discount,
				NetAmount:      charged.Sub(discount),
				OperationTime:  ts,
			},
			HighRisk: highRisk,
		})
	}
	return out
}

// readCSV reads bills with the header
// bill_id,branch_id,bill_date,operator_id,business_type,charged_amount,discount_amount,net_amount,operation_time,high_risk.
func readCSV(path string) ([]LabelledBill, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range []string{"bill_id", "operator_id", "business_type", "charged_amount", "operation_time"} {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}
	get := func(record []string, col string) string {
		if i, ok := colIndex[col]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}
	amount := func(record []string, col string) decimal.Decimal {
		d, err := decimal.NewFromString(get(record, col))
		if err != nil {
			return decimal.Zero
		}
		return d
	}

	var bills []LabelledBill
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		ts, err := time.Parse("2006-01-02 15:04:05", get(record, "operation_time"))
		if err != nil {
			continue
		}
		billDate, err := time.Parse("2006-01-02", get(record, "bill_date"))
		if err != nil {
			billDate = time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		}
		highRisk, _ := strconv.ParseBool(get(record, "high_risk"))

		bills = append(bills, LabelledBill{
			Bill: Bill{
				BillID:         get(record, "bill_id"),
				BranchID:       get(record, "branch_id"),
				BillDate:       billDate,
				OperatorID:     get(record, "operator_id"),
				BusinessType:   get(record, "business_type"),
				ChargedAmount:  amount(record, "charged_amount"),
				DiscountAmount: amount(record, "discount_amount"),
				NetAmount:      amount(record, "net_amount"),
				OperationTime:  ts,
			},
			HighRisk: highRisk,
		})
	}

	return bills, nil
}

func runBenchmark(batch []LabelledBill, baseURL string, chunkSize, numWorkers int, threshold float64, verbose bool) *Metrics {
	metrics := &Metrics{}
	if chunkSize <= 0 {
		chunkSize = len(batch)
	}

	// Create work channel
	work := make(chan []LabelledBill, numWorkers)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 60 * time.Second}

			for chunk := range work {
				start := time.Now()
				scores, err := detect(client, baseURL, chunk)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())

				for _, b := range chunk {
					atomic.AddInt64(&metrics.TotalProcessed, 1)

					score, ok := scores[b.BillID]
					if err != nil || !ok {
						atomic.AddInt64(&metrics.TotalErrors, 1)
						continue
					}

					// Track actual labels
					if b.HighRisk {
						atomic.AddInt64(&metrics.TotalHighRisk, 1)
					} else {
						atomic.AddInt64(&metrics.TotalNormal, 1)
					}

					// Calculate confusion matrix
					predicted := score >= threshold
					actual := b.HighRisk

					switch {
					case predicted && actual:
						atomic.AddInt64(&metrics.TruePositives, 1)
					case predicted && !actual:
						atomic.AddInt64(&metrics.FalsePositives, 1)
					case !predicted && !actual:
						atomic.AddInt64(&metrics.TrueNegatives, 1)
					default:
						atomic.AddInt64(&metrics.FalseNegatives, 1)
					}

					if verbose && predicted != actual {
						fmt.Printf("✗ %-10s | %-8s | %-12s | Amount: %10s | Hour: %02d | Labelled: %-5v | Score: %.2f\n",
							b.BillID,
							b.OperatorID,
							b.BusinessType,
							b.ChargedAmount.StringFixed(2),
							b.OperationTime.Hour(),
							b.HighRisk,
							score,
						)
					}
				}
				if err != nil && verbose {
					fmt.Printf("ERROR: chunk of %d -> %v\n", len(chunk), err)
				}
			}
		}()
	}

	// Send work. Chunks are scored independently, so frequency and window
	// patterns only see records of the same chunk.
	for i := 0; i < len(batch); i += chunkSize {
		end := min(i+chunkSize, len(batch))
		work <- batch[i:end]
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func detect(client *http.Client, baseURL string, chunk []LabelledBill) (map[string]float64, error) {
	records := make([]Bill, len(chunk))
	for i, b := range chunk {
		records[i] = b.Bill
	}

	var resp DetectResponse
	if err := postJSON(client, baseURL+"/detect", map[string]any{"records": records}, &resp); err != nil {
		return nil, err
	}
	return resp.Scores, nil
}

func postJSON(client *http.Client, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Labelled High:    %d\n", m.TotalHighRisk)
	fmt.Printf("   Labelled Normal:  %d\n", m.TotalNormal)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    HIGH        LOW/MED")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  H  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           N  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of high-risk scores, how many were labelled)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of labelled records, how many scored high)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Throughput:       %.2f records/sec\n", tps)
	}

	fmt.Println()
}
