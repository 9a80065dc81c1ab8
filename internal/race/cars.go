package race

import "fmt"

type UseResult struct {
	Item Item    `json:"item"`
	Car  CarView `json:"car"`
}

func useItem(st *State, sender string, itemID uint32, carID int) (UseResult, error) {
	if st.Game.Phase != PhaseInProgress {
		return UseResult{}, fmt.Errorf("%w: game is %s", ErrInvalidPhase, st.Game.Phase)
	}
	car, err := st.car(carID)
	if err != nil {
		return UseResult{}, fmt.Errorf("%w: %d", err, carID)
	}
	item, ok := st.Items[itemID]
	if !ok || item.Owner != sender || item.UsesRemaining <= 0 {
		return UseResult{}, fmt.Errorf("%w: %d", ErrItemNotFound, itemID)
	}
	car.TotalBoost += item.EffectValue
	car.ItemCount++
	item.UsesRemaining--
	return UseResult{Item: *item, Car: car.View()}, nil
}
