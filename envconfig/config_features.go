// config_features.go - Feature-Flags und Trainings-Konfiguration
//
// Dieses Modul enthaelt:
// - Feature-Flags (NoProgress)
// - Trainings-bezogene Environment-Variablen (Seed, CheckpointDType)
package envconfig

// =============================================================================
// Feature-Flags
// =============================================================================

var (
	// NoProgress deaktiviert die Fortschrittsbalken im Terminal
	NoProgress = Bool("CAPTION_NOPROGRESS")
)

// =============================================================================
// Trainings-Variablen
// =============================================================================

var (
	// Seed ueberschreibt den Seed aus der Experiment-Konfiguration
	// 0 bedeutet: Seed aus der Konfiguration verwenden
	Seed = Uint64("CAPTION_SEED", 0)

	// CheckpointDType ueberschreibt den Tensor-Typ fuer Checkpoints (F64|F32|F16)
	CheckpointDType = String("CAPTION_CHECKPOINT_DTYPE")
)
