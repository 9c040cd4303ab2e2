package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}

	// Verify all metrics are initialized
	if m.GateDecisionsTotal == nil {
		t.Error("GateDecisionsTotal is nil")
	}
	if m.GateDuration == nil {
		t.Error("GateDuration is nil")
	}
	if m.ChallengesIssuedTotal == nil {
		t.Error("ChallengesIssuedTotal is nil")
	}
	if m.ChallengesConsumedTotal == nil {
		t.Error("ChallengesConsumedTotal is nil")
	}
	if m.HashDuration == nil {
		t.Error("HashDuration is nil")
	}
	if m.MultisigApprovalsTotal == nil {
		t.Error("MultisigApprovalsTotal is nil")
	}
	if m.ExternalAPIRequestsTotal == nil {
		t.Error("ExternalAPIRequestsTotal is nil")
	}
	if m.ExternalAPIErrorsTotal == nil {
		t.Error("ExternalAPIErrorsTotal is nil")
	}
	if m.ExternalAPIDuration == nil {
		t.Error("ExternalAPIDuration is nil")
	}
	if m.DBQueryDuration == nil {
		t.Error("DBQueryDuration is nil")
	}
	if m.DBQueryTotal == nil {
		t.Error("DBQueryTotal is nil")
	}
	if m.DBErrorsTotal == nil {
		t.Error("DBErrorsTotal is nil")
	}
	if m.HTTPRequestsTotal == nil {
		t.Error("HTTPRequestsTotal is nil")
	}
	if m.HTTPRequestDuration == nil {
		t.Error("HTTPRequestDuration is nil")
	}
	if m.CircuitBreakerState == nil {
		t.Error("CircuitBreakerState is nil")
	}
	if m.CircuitBreakerTrips == nil {
		t.Error("CircuitBreakerTrips is nil")
	}
}

func TestRecordGateDecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordGateDecision("allow", "", 2*time.Millisecond)
	m.RecordGateDecision("deny", "auth_api_key_not_provided", time.Millisecond)
	m.RecordGateDecision("deny", "auth_api_key_not_provided", time.Millisecond)

	allowed := testutil.ToFloat64(m.GateDecisionsTotal.WithLabelValues("allow", ""))
	if allowed != 1 {
		t.Errorf("Expected allow count to be 1, got %f", allowed)
	}

	denied := testutil.ToFloat64(m.GateDecisionsTotal.WithLabelValues("deny", "auth_api_key_not_provided"))
	if denied != 2 {
		t.Errorf("Expected deny count to be 2, got %f", denied)
	}
}

func TestRecordChallenge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordChallengeIssued()
	m.RecordChallengeIssued()
	m.RecordChallengeConsumed("ok")
	m.RecordChallengeConsumed("auth_client_pub_key_and_message_already_used")

	if got := testutil.ToFloat64(m.ChallengesIssuedTotal); got != 2 {
		t.Errorf("Expected issued count to be 2, got %f", got)
	}
	if got := testutil.ToFloat64(m.ChallengesConsumedTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("Expected ok consume count to be 1, got %f", got)
	}
}

func TestRecordCustody(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordHashDuration("compute", 300*time.Millisecond)
	m.RecordWallet("import", "existing")
	m.RecordWallet("import", "created")
	m.RecordSeedDecryptFailure()

	if got := testutil.ToFloat64(m.WalletsTotal.WithLabelValues("import", "existing")); got != 1 {
		t.Errorf("Expected existing import count to be 1, got %f", got)
	}
	if got := testutil.ToFloat64(m.SeedDecryptFailures); got != 1 {
		t.Errorf("Expected decrypt failure count to be 1, got %f", got)
	}
}

func TestRecordMultisig(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordMultisigAsset("created")
	m.RecordMultisigAsset("existing")
	m.RecordMultisigApproval("applied")
	m.RecordMultisigApproval("applied")
	m.RecordMultisigApproval("noop")
	m.RecordTransactionTransition("PENDING")

	if got := testutil.ToFloat64(m.MultisigApprovalsTotal.WithLabelValues("applied")); got != 2 {
		t.Errorf("Expected applied approvals to be 2, got %f", got)
	}
	if got := testutil.ToFloat64(m.MultisigApprovalsTotal.WithLabelValues("noop")); got != 1 {
		t.Errorf("Expected noop approvals to be 1, got %f", got)
	}
	if got := testutil.ToFloat64(m.TransactionTransitions.WithLabelValues("PENDING")); got != 1 {
		t.Errorf("Expected PENDING transitions to be 1, got %f", got)
	}
}

func TestRecordExternalAPIRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordExternalAPIRequest("kms", "key_pair")
	m.RecordExternalAPIRequest("kms", "key_pair")
	m.RecordExternalAPIRequest("kms", "random_bytes")

	keyPairCalls := testutil.ToFloat64(m.ExternalAPIRequestsTotal.WithLabelValues("kms", "key_pair"))
	if keyPairCalls != 2 {
		t.Errorf("Expected kms key_pair count to be 2, got %f", keyPairCalls)
	}

	randomCalls := testutil.ToFloat64(m.ExternalAPIRequestsTotal.WithLabelValues("kms", "random_bytes"))
	if randomCalls != 1 {
		t.Errorf("Expected kms random_bytes count to be 1, got %f", randomCalls)
	}
}

func TestRecordExternalAPIError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordExternalAPIError("kms", "key_pair", "timeout")
	m.RecordExternalAPIError("kms", "random_bytes", "rate_limit")

	keyPairTimeout := testutil.ToFloat64(m.ExternalAPIErrorsTotal.WithLabelValues("kms", "key_pair", "timeout"))
	if keyPairTimeout != 1 {
		t.Errorf("Expected kms timeout count to be 1, got %f", keyPairTimeout)
	}
}

func TestRecordExternalAPIDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordExternalAPIDuration("kms", "key_pair", 500*time.Millisecond)
	m.RecordExternalAPIDuration("kms", "random_bytes", 200*time.Millisecond)

	// Verify histograms are recorded
}

func TestRecordDBQuery(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordDBQuery("select", "challenges", 10*time.Millisecond)
	m.RecordDBQuery("insert", "challenges", 5*time.Millisecond)
	m.RecordDBQuery("select", "wallets", 8*time.Millisecond)

	selectChallenges := testutil.ToFloat64(m.DBQueryTotal.WithLabelValues("select", "challenges"))
	if selectChallenges != 1 {
		t.Errorf("Expected select challenges count to be 1, got %f", selectChallenges)
	}

	insertChallenges := testutil.ToFloat64(m.DBQueryTotal.WithLabelValues("insert", "challenges"))
	if insertChallenges != 1 {
		t.Errorf("Expected insert challenges count to be 1, got %f", insertChallenges)
	}
}

func TestRecordDBError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordDBError("select", "challenges")
	m.RecordDBError("insert", "transactions")

	selectError := testutil.ToFloat64(m.DBErrorsTotal.WithLabelValues("select", "challenges"))
	if selectError != 1 {
		t.Errorf("Expected select error count to be 1, got %f", selectError)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordHTTPRequest("GET", "/", "200", 10*time.Millisecond, 256)
	m.RecordHTTPRequest("POST", "/api/v1/wallets", "200", 2*time.Second, 4096)
	m.RecordHTTPRequest("GET", "/api/v1/multisig", "500", 50*time.Millisecond, 128)

	healthOK := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/", "200"))
	if healthOK != 1 {
		t.Errorf("Expected GET / 200 count to be 1, got %f", healthOK)
	}

	multisigError := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/multisig", "500"))
	if multisigError != 1 {
		t.Errorf("Expected GET /api/v1/multisig 500 count to be 1, got %f", multisigError)
	}
}

func TestCircuitBreakerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	// Set initial states
	m.SetCircuitBreakerState("kms", 0) // closed
	m.SetCircuitBreakerState("aws_kms", 2)  // open

	kmsState := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("kms"))
	if kmsState != 0 {
		t.Errorf("Expected kms state to be 0 (closed), got %f", kmsState)
	}

	awsState := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("aws_kms"))
	if awsState != 2 {
		t.Errorf("Expected aws_kms state to be 2 (open), got %f", awsState)
	}

	// Record trips
	m.RecordCircuitBreakerTrip("kms")
	m.RecordCircuitBreakerTrip("kms")

	kmsTrips := testutil.ToFloat64(m.CircuitBreakerTrips.WithLabelValues("kms"))
	if kmsTrips != 2 {
		t.Errorf("Expected kms trips to be 2, got %f", kmsTrips)
	}
}

func TestTimer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	timer := m.NewTimer()
	if timer == nil {
		t.Fatal("NewTimer returned nil")
	}

	// Sleep a small amount to ensure duration is measurable
	time.Sleep(10 * time.Millisecond)

	duration := timer.Duration()
	if duration < 10*time.Millisecond {
		t.Errorf("Expected duration to be at least 10ms, got %v", duration)
	}

	// Test ObserveGate
	timer.ObserveGate("allow", "")

	// Test ObserveHash
	timer2 := m.NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer2.ObserveHash("compute")

	// Test ObserveExternalAPI
	timer3 := m.NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer3.ObserveExternalAPI("kms", "key_pair")

	// Test ObserveDB
	timer4 := m.NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer4.ObserveDB("select", "challenges")
}

func TestGetMetrics_Singleton(t *testing.T) {
	// Save and restore global metrics state
	original := globalMetrics
	defer func() { globalMetrics = original }()

	// Create a fresh metrics instance with a dedicated registry
	reg := prometheus.NewRegistry()
	testMetrics := NewMetrics(reg)
	globalMetrics = testMetrics

	m1 := GetMetrics()
	if m1 == nil {
		t.Fatal("GetMetrics returned nil")
	}

	m2 := GetMetrics()
	if m1 != m2 {
		t.Error("GetMetrics should return the same instance")
	}
}

func TestInitMetrics_SetsGlobal(t *testing.T) {
	// Save and restore global metrics state
	original := globalMetrics
	defer func() { globalMetrics = original }()

	// Create a new registry for isolation
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	globalMetrics = m

	// Verify it's the global instance
	if globalMetrics != m {
		t.Error("globalMetrics should match the instance we set")
	}

	// Verify GetMetrics returns it
	if GetMetrics() != m {
		t.Error("GetMetrics should return the global instance")
	}
}
